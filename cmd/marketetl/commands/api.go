package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantfold/marketetl/internal/api"
	"github.com/quantfold/marketetl/internal/api/handlers"
	"github.com/quantfold/marketetl/internal/scheduler"
	"github.com/quantfold/marketetl/internal/scheduler/jobs"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

이 명령어는:
- HTTP API 서버 시작
- 데이터셋 상태/매니페스트 조회 엔드포인트 제공
- ETL 실행 트리거 제공
- 실행 진행 상황 웹소켓 스트림 제공

Endpoints:
  GET  /health          - Health check
  GET  /api/status      - 데이터셋 최신 상태
  GET  /api/manifest    - 피처 매니페스트
  POST /api/etl/run     - ETL 실행 트리거
  GET  /api/jobs        - 스케줄 작업 통계
  GET  /ws/progress     - 실행 진행 웹소켓

Example:
  go run ./cmd/marketetl api
  go run ./cmd/marketetl api --port 8090 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort       string
	withScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (default from PORT env)")
	apiCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "일일 증분 스케줄러 함께 실행")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== marketetl API Server ===")

	ctx := context.Background()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	hub := handlers.NewProgressHub(a.logger)
	a.pipeline.OnProgress(hub.Publish)

	var sched *scheduler.Scheduler
	if withScheduler {
		sched = scheduler.New(a.logger)
		if err := sched.AddJob(jobs.NewIncrementalETLJob(a.pipeline, a.logger)); err != nil {
			return fmt.Errorf("register incremental job: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	etlHandler := handlers.NewETLHandler(
		a.pipeline, a.store.Bars, a.store.Features, a.store.Labels, a.store.Events,
		sched, a.cfg, a.logger)
	router := api.NewRouter(etlHandler, hub, a.logger)
	server := api.New(a.cfg, a.logger, router)

	// Serve until shutdown signal
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
