// Package main is the entry point for the nexus CLI application.
package main

import (
	"fmt"
	"os"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
