package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// apiGet fetches one status API endpoint and decodes the JSON document.
func apiGet(path string) (map[string]interface{}, error) {
	resp, err := httpClient.Get(fmt.Sprintf("http://%s%s", apiAddr, path))
	if err != nil {
		return nil, fmt.Errorf("cannot reach smart proxy at %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()
	return decodeBody(resp.Body, resp.StatusCode)
}

// apiAction posts one action to the status API.
func apiAction(payload map[string]string) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(
		fmt.Sprintf("http://%s/api/action", apiAddr),
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot reach smart proxy at %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()
	return decodeBody(resp.Body, resp.StatusCode)
}

func decodeBody(r io.Reader, status int) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed API response: %w", err)
	}
	if status != http.StatusOK {
		if msg, ok := doc["error"].(string); ok {
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("API returned status %d", status)
	}
	return doc, nil
}

// printDoc renders a response either as indented JSON (--json) or as
// plain key/value text.
func printDoc(doc map[string]interface{}) error {
	if jsonOutput {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	for key, value := range doc {
		switch v := value.(type) {
		case string, float64, bool:
			fmt.Printf("%s: %v\n", key, v)
		default:
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("%s:\n%s\n", key, string(data))
		}
	}
	return nil
}
