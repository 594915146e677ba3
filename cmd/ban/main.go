// Package main provides the entry point for the ban command line.
package main

import (
	"os"

	"github.com/maauso/bulk-audio-normalizer/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
