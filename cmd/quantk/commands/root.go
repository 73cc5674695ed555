package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quantk",
	Short: "quantk - 한국 주식 팩터/스크리닝 JSON-RPC 브릿지",
	Long: `quantk Unified CLI

JSON-RPC 2.0 over TCP 브릿지.
크로스섹션 팩터 스코어링과 조건식 스크리닝을 제공.

Usage:
  go run ./cmd/quantk [command]

Examples:
  go run ./cmd/quantk serve
  go run ./cmd/quantk factors
  go run ./cmd/quantk parse "PER<10" "시총>1조"`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
