package validator

import "strings"

// blockPatterns are the substrings that mark a transport-successful
// response as a gatekeeping page. The list is a design constant.
var blockPatterns = []string{
	"blocked",
	"forbidden",
	"access denied",
	"error 403",
	"error 404",
}

// ValidateHTTP classifies a response into network-level and user-level
// success. Network success means a 2xx/3xx status was received; user
// success additionally means the body carries no block-page markers.
// The function is pure.
func ValidateHTTP(status int, body []byte) (netOK, userOK bool) {
	netOK = status >= 200 && status < 400
	if !netOK {
		return false, false
	}
	return true, !containsBlockPattern(printableLower(body))
}

// printableLower reduces the body to a lower-case printable-ASCII view so
// pattern matching is not thrown off by binary content.
func printableLower(body []byte) string {
	var sb strings.Builder
	sb.Grow(len(body))
	for _, b := range body {
		switch {
		case b >= 32 && b < 127:
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			sb.WriteByte(b)
		case b == '\n' || b == '\r' || b == '\t':
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

func containsBlockPattern(content string) bool {
	for _, pattern := range blockPatterns {
		if strings.Contains(content, pattern) {
			return true
		}
	}
	return false
}
