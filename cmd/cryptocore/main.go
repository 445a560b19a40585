package main

import (
	"os"

	"github.com/veilworks/cryptocore/cmd/cryptocore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
