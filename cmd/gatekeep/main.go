package main

import (
	"os"

	"github.com/gatekeep-io/gatekeep/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
