package main

import (
	"os"

	"github.com/kyujaq/hearth/orchestrator"
)

func main() {
	if err := orchestrator.Run(); err != nil {
		os.Exit(1)
	}
}
