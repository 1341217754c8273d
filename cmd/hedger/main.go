package main

import (
	"os"

	"github.com/wakala/hedger/cmd/hedger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
