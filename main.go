package main

import (
	"os"

	"github.com/cordon-io/cordon/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
