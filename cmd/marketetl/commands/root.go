package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marketetl",
	Short: "Point-in-time ETF feature/label ETL",
	Long: `marketetl Unified CLI

일봉 OHLCV + FRED 매크로 기반 피처/라벨 ETL 파이프라인.
미래 정보 누출 없이 백필과 증분 갱신이 같은 행을 생산함.

Usage:
  go run ./cmd/marketetl [command]

Examples:
  go run ./cmd/marketetl backfill --start 2015-01-01 --end 2024-12-31
  go run ./cmd/marketetl incremental
  go run ./cmd/marketetl scheduler start
  go run ./cmd/marketetl api
  go run ./cmd/marketetl status`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
