package main

import (
	"os"

	"github.com/luciancaetano/kephasgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
