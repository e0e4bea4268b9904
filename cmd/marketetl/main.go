package main

import (
	"os"

	"github.com/quantfold/marketetl/cmd/marketetl/commands"
)

// main is the entry point for the marketetl CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/marketetl [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
