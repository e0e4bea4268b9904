package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "데이터셋 최신 상태 조회",
	Long: `종목별 원시/피처/라벨 데이터의 마지막 저장 날짜를 출력합니다.

Example:
  go run ./cmd/marketetl status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("%-8s %-12s %-12s %-12s\n", "SYMBOL", "BARS", "FEATURES", "LABELS")
	for _, sym := range a.cfg.Pipeline.Symbols {
		barDate := "-"
		if d, ok, err := a.store.Bars.LatestDate(ctx, sym); err == nil && ok {
			barDate = d.Format("2006-01-02")
		}
		featDate := "-"
		if d, ok, err := a.store.Features.LatestDate(ctx, sym); err == nil && ok {
			featDate = d.Format("2006-01-02")
		}
		labelDate := "-"
		if d, ok, err := a.store.Labels.LatestDate(ctx, sym); err == nil && ok {
			labelDate = d.Format("2006-01-02")
		}
		fmt.Printf("%-8s %-12s %-12s %-12s\n", sym, barDate, featDate, labelDate)
	}
	return nil
}
