package main

import (
	"os"
	_ "time/tzdata" // timezone names work on hosts without zoneinfo

	"github.com/mims-dev/mims/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
