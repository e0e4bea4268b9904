package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantfold/marketetl/internal/pipeline"
)

// incrementalCmd represents the incremental command
var incrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "최신 거래일까지 증분 갱신",
	Long: `마지막으로 저장된 피처 날짜 이후의 행만 추가합니다.

이 명령어는:
- 저장된 마지막 피처 날짜 조회
- 롤링 윈도우 계산을 위한 과거 1년 컨텍스트 재적재
- 새 거래일 행만 업서트 (기존 행은 수정하지 않음)

Example:
  go run ./cmd/marketetl incremental`,
	RunE: runIncremental,
}

func init() {
	rootCmd.AddCommand(incrementalCmd)
}

func runIncremental(cmd *cobra.Command, args []string) error {
	fmt.Println("=== marketetl incremental ===")

	ctx := context.Background()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.pipeline.Incremental(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("incremental: %w", err)
	}

	printSummary(summary)
	if len(summary.Failures) > 0 {
		return fmt.Errorf("incremental finished with %d failed instruments", len(summary.Failures))
	}
	return nil
}

// printSummary prints a run summary to stdout.
func printSummary(s *pipeline.RunSummary) {
	if s.NoOp {
		fmt.Println("Dataset already current, nothing to do")
		return
	}

	fmt.Printf("Mode:         %s\n", s.Mode)
	fmt.Printf("Range:        %s .. %s\n", s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"))
	fmt.Printf("Bar rows:     %d\n", s.BarRows)
	fmt.Printf("Macro rows:   %d\n", s.MacroRows)
	fmt.Printf("Event rows:   %d\n", s.EventRows)
	fmt.Printf("Feature rows: %d\n", s.FeatureRows)
	fmt.Printf("Label rows:   %d\n", s.LabelRows)
	fmt.Printf("Duration:     %s\n", s.Duration)

	for sym, msg := range s.Failures {
		fmt.Printf("FAILED %s: %s\n", sym, msg)
	}
}
