package main

import (
	"os"

	"github.com/msto63/wake/cmd/wake/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
