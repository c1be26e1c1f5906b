// Package main provides the entry point for the notesync CLI.
package main

import (
	"os"

	"github.com/kadragon/notesync/cmd/notesync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
