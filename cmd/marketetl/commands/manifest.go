package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantfold/marketetl/internal/features"
)

// manifestCmd represents the manifest command
var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "피처 매니페스트 출력",
	Long: `현재 버전의 피처 매니페스트를 JSON으로 출력합니다.

매니페스트 버전이 바뀌면 기존 피처 행은 무효가 되어 백필이 필요합니다.

Example:
  go run ./cmd/marketetl manifest`,
	RunE: runManifest,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
}

func runManifest(cmd *cobra.Command, args []string) error {
	m := features.Default()
	if err := m.Validate(); err != nil {
		return fmt.Errorf("manifest invalid: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
