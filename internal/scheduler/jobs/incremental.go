// Package jobs holds the concrete scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/marketetl/internal/pipeline"
	"github.com/quantfold/marketetl/pkg/logger"
)

// IncrementalETLJob extends the dataset through the latest completed trading
// day each weekday evening.
// ⭐ SSOT: 일일 증분 ETL 스케줄은 이 Job에서만
type IncrementalETLJob struct {
	pipeline *pipeline.Pipeline
	logger   *logger.Logger
}

// NewIncrementalETLJob creates the daily incremental job.
func NewIncrementalETLJob(p *pipeline.Pipeline, log *logger.Logger) *IncrementalETLJob {
	return &IncrementalETLJob{pipeline: p, logger: log}
}

// Name returns the job name.
func (j *IncrementalETLJob) Name() string {
	return "incremental_etl"
}

// Schedule fires at 22:30 UTC on weekdays, about two hours after the NYSE
// close, leaving the vendors time to finalize the day's bars.
func (j *IncrementalETLJob) Schedule() string {
	return "0 30 22 * * 1-5"
}

// Run executes one incremental update.
func (j *IncrementalETLJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled incremental ETL")

	summary, err := j.pipeline.Incremental(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("incremental etl: %w", err)
	}

	if summary.NoOp {
		j.logger.Info("Dataset already current, nothing to do")
		return nil
	}
	if len(summary.Failures) > 0 {
		for sym, msg := range summary.Failures {
			j.logger.WithFields(map[string]interface{}{
				"symbol": sym,
				"error":  msg,
			}).Error("Instrument failed during scheduled run")
		}
		return fmt.Errorf("incremental etl: %d instruments failed", len(summary.Failures))
	}

	j.logger.WithFields(map[string]interface{}{
		"feature_rows": summary.FeatureRows,
		"label_rows":   summary.LabelRows,
		"duration":     summary.Duration.String(),
	}).Info("Scheduled incremental ETL completed")

	return nil
}
