package main

import (
	"os"

	"github.com/storyround/storyround/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
