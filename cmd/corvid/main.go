package main

import (
	"os"

	"github.com/corvid-ai/corvid/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
