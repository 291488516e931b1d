// Package main provides the entry point for the coderecall CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/coderecall/cmd/coderecall/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
