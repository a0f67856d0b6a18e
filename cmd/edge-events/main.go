package main

import (
	"os"

	"github.com/GabrielNunesIT/edge-events/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
