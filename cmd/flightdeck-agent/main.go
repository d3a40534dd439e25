package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/flightdeck-io/flightdeck/cmd/flightdeck-agent/app"
)

func main() {
	if err := app.NewAgentCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
