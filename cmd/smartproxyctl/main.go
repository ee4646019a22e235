package main

import (
	"os"

	"github.com/tayyebi/smart-proxy/cmd/smartproxyctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
