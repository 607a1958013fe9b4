// Package main is the entry point for kettlectl.
// The CLI is the developer terminal tool for driving the kettleplane API.
package main

import (
	"kettleplane/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
