package main

import (
	"os"

	"github.com/dl-alexandre/drivesync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
