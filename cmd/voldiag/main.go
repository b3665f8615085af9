package main

import (
	"os"

	"github.com/moolen/voldiag/cmd/voldiag/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
