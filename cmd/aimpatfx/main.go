package main

import (
	"os"

	"github.com/aimpatfx/backend/cmd/aimpatfx/commands"
)

// main is the entry point for the AIMPATFX CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
