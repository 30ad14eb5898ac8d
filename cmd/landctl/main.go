// Package main is the entry point for the landctl CLI.
package main

import (
	"os"

	"landvalue/cmd/landctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
