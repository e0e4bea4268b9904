package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantfold/marketetl/internal/scheduler"
	"github.com/quantfold/marketetl/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `스케줄러를 시작하거나 작업을 관리합니다.

Subcommands:
  start   - 스케줄러 시작
  run     - 특정 작업 즉시 실행

등록되는 작업:
- incremental_etl: 평일 22:30 UTC (증분 ETL)

Example:
  go run ./cmd/marketetl scheduler start
  go run ./cmd/marketetl scheduler run incremental_etl`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long:  `스케줄러를 시작하고 등록된 모든 작업을 스케줄합니다. Ctrl+C로 종료.`,
		RunE:  runScheduler,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchedulerJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

func buildScheduler(ctx context.Context) (*app, *scheduler.Scheduler, error) {
	a, err := bootstrap(ctx)
	if err != nil {
		return nil, nil, err
	}

	sched := scheduler.New(a.logger)
	if err := sched.AddJob(jobs.NewIncrementalETLJob(a.pipeline, a.logger)); err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("register incremental job: %w", err)
	}
	return a, sched, nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== marketetl scheduler ===")

	ctx := context.Background()
	a, sched, err := buildScheduler(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched.Start()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sched.Stop()
	return nil
}

func runSchedulerJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]
	fmt.Printf("=== marketetl scheduler run %s ===\n", jobName)

	ctx := context.Background()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Run synchronously so the exit code reflects the outcome.
	registered := map[string]scheduler.Job{}
	for _, job := range []scheduler.Job{
		jobs.NewIncrementalETLJob(a.pipeline, a.logger),
	} {
		registered[job.Name()] = job
	}

	job, ok := registered[jobName]
	if !ok {
		return fmt.Errorf("job %s not found", jobName)
	}
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("job %s failed: %w", jobName, err)
	}
	fmt.Printf("Job %s completed\n", jobName)
	return nil
}
