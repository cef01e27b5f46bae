package main

import (
	"os"

	"github.com/frameloom/frameloom/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
