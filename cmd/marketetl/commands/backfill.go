package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// backfillCmd represents the backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "피처/라벨 데이터셋 백필",
	Long: `지정한 기간의 데이터셋을 처음부터 다시 생성합니다.

이 명령어는:
- 일봉/프록시/매크로 원시 데이터 수집
- 기술 지표 + 컨텍스트 피처 계산
- 5일 선행 호라이즌 라벨 생성
- 기간 내 모든 행 업서트 (멱등)

Example:
  go run ./cmd/marketetl backfill --start 2015-01-01 --end 2024-12-31`,
	RunE: runBackfill,
}

var (
	backfillStart string
	backfillEnd   string
)

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "range start (YYYY-MM-DD)")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "range end (YYYY-MM-DD, default today)")
	_ = backfillCmd.MarkFlagRequired("start")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	fmt.Println("=== marketetl backfill ===")

	start, err := time.Parse("2006-01-02", backfillStart)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	end := time.Now().UTC()
	if backfillEnd != "" {
		if end, err = time.Parse("2006-01-02", backfillEnd); err != nil {
			return fmt.Errorf("parse --end: %w", err)
		}
	}

	ctx := context.Background()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.pipeline.Backfill(ctx, start, end)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	printSummary(summary)
	if len(summary.Failures) > 0 {
		return fmt.Errorf("backfill finished with %d failed instruments", len(summary.Failures))
	}
	return nil
}
