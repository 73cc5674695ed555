package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/quantk/internal/screener"
)

// parseCmd parses screening conditions offline, for quick DSL checks
var parseCmd = &cobra.Command{
	Use:   "parse <condition>...",
	Short: "스크리닝 조건식 파싱 테스트",
	Long: `조건식을 파싱해서 (factor, operator, value)로 출력합니다.
서버 없이 DSL 문법을 검증할 때 사용.

Example:
  go run ./cmd/quantk parse "PER<10" "시총>1조"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	for _, condition := range args {
		parsed, err := screener.ParseCondition(condition)
		if err != nil {
			return fmt.Errorf("parse %q: %w", condition, err)
		}
		fmt.Printf("%-20s → factor=%s operator=%s value=%g\n",
			condition, parsed.Factor, parsed.Operator, parsed.Value)
	}
	return nil
}
