package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wonny/quantk/internal/factors"
)

// factorsCmd prints the advertised factor catalog
var factorsCmd = &cobra.Command{
	Use:   "factors",
	Short: "지원 팩터 카탈로그 출력",
	Long: `계산 가능한 팩터 목록을 카테고리별로 출력합니다.

Example:
  go run ./cmd/quantk factors`,
	Run: runFactors,
}

func init() {
	rootCmd.AddCommand(factorsCmd)
}

func runFactors(cmd *cobra.Command, args []string) {
	categories := factors.Categories()

	names := make([]string, 0, len(categories))
	for category := range categories {
		names = append(names, category)
	}
	sort.Strings(names)

	for _, category := range names {
		fmt.Printf("%s:\n", category)
		for _, factor := range categories[category] {
			fmt.Printf("  %s\n", factor)
		}
	}
}
