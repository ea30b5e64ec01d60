// Package main is the entry point for the raggate gateway CLI.
package main

import (
	"os"

	"github.com/tessellate-ai/raggate/cmd/raggate/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
