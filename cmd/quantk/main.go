package main

import (
	"os"

	"github.com/wonny/quantk/cmd/quantk/commands"
)

// main is the entry point for the quantk CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/quantk [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
