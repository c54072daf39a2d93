// Package main is the entry point for the storylift application.
package main

import (
	"os"

	"github.com/MarcusHSmith/StoryLift/cmd/storylift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
