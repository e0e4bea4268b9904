// Package handlers holds the HTTP handlers of the ETL API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/features"
	"github.com/quantfold/marketetl/internal/pipeline"
	"github.com/quantfold/marketetl/internal/scheduler"
	"github.com/quantfold/marketetl/pkg/config"
	"github.com/quantfold/marketetl/pkg/logger"
)

// ETLHandler handles the dataset and run-control endpoints.
// ⭐ SSOT: ETL API 핸들러는 이 구조체에서만
type ETLHandler struct {
	pipeline  *pipeline.Pipeline
	bars      contracts.BarRepository
	feats     contracts.FeatureRepository
	labels    contracts.LabelRepository
	events    contracts.EventRepository
	scheduler *scheduler.Scheduler
	config    *config.Config
	logger    *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewETLHandler creates the ETL handler. The scheduler may be nil when the
// server runs without one; the jobs endpoint then reports no jobs.
func NewETLHandler(
	p *pipeline.Pipeline,
	bars contracts.BarRepository,
	feats contracts.FeatureRepository,
	labels contracts.LabelRepository,
	events contracts.EventRepository,
	sched *scheduler.Scheduler,
	cfg *config.Config,
	log *logger.Logger,
) *ETLHandler {
	return &ETLHandler{
		pipeline:  p,
		bars:      bars,
		feats:     feats,
		labels:    labels,
		events:    events,
		scheduler: sched,
		config:    cfg,
		logger:    log,
	}
}

// InstrumentStatus reports dataset freshness for one instrument.
type InstrumentStatus struct {
	Symbol        string `json:"symbol"`
	LatestBar     string `json:"latest_bar,omitempty"`
	LatestFeature string `json:"latest_feature,omitempty"`
	LatestLabel   string `json:"latest_label,omitempty"`
}

// StatusResponse is the dataset status payload.
type StatusResponse struct {
	ManifestVersion string             `json:"manifest_version"`
	RunInProgress   bool               `json:"run_in_progress"`
	Instruments     []InstrumentStatus `json:"instruments"`
}

// GetStatus returns per-instrument dataset freshness
// GET /api/status
func (h *ETLHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.mu.Lock()
	running := h.running
	h.mu.Unlock()

	resp := StatusResponse{
		ManifestVersion: features.Version,
		RunInProgress:   running,
	}

	for _, sym := range h.config.Pipeline.Symbols {
		st := InstrumentStatus{Symbol: sym}
		if d, ok, err := h.bars.LatestDate(ctx, sym); err == nil && ok {
			st.LatestBar = d.Format("2006-01-02")
		}
		if d, ok, err := h.feats.LatestDate(ctx, sym); err == nil && ok {
			st.LatestFeature = d.Format("2006-01-02")
		}
		if d, ok, err := h.labels.LatestDate(ctx, sym); err == nil && ok {
			st.LatestLabel = d.Format("2006-01-02")
		}
		resp.Instruments = append(resp.Instruments, st)
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetManifest returns the versioned feature manifest
// GET /api/manifest
func (h *ETLHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, features.Default())
}

// GetEvents returns the persisted event calendar over a date range
// GET /api/events?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *ETLHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse("2006-01-02", q.Get("start"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid start date (YYYY-MM-DD)")
		return
	}
	end, err := time.Parse("2006-01-02", q.Get("end"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid end date (YYYY-MM-DD)")
		return
	}
	if end.Before(start) {
		respondError(w, http.StatusBadRequest, "End date before start date")
		return
	}

	records, err := h.events.Range(r.Context(), start, end)
	if err != nil {
		h.logger.WithError(err).Error("Event range query failed")
		respondError(w, http.StatusInternalServerError, "Failed to load events")
		return
	}
	if records == nil {
		records = []contracts.EventRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// RunRequest triggers an ETL run.
type RunRequest struct {
	Mode  string `json:"mode"`  // "backfill" or "incremental"
	Start string `json:"start"` // backfill only (YYYY-MM-DD)
	End   string `json:"end"`   // backfill only (YYYY-MM-DD)
}

// RunResponse acknowledges an accepted run.
type RunResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

// TriggerRun starts a pipeline run in the background. Only one run may be in
// flight at a time
// POST /api/etl/run
func (h *ETLHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var run func(ctx context.Context) (*pipeline.RunSummary, error)
	switch req.Mode {
	case "backfill":
		start, err := time.Parse("2006-01-02", req.Start)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid start date (YYYY-MM-DD)")
			return
		}
		end, err := time.Parse("2006-01-02", req.End)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid end date (YYYY-MM-DD)")
			return
		}
		run = func(ctx context.Context) (*pipeline.RunSummary, error) {
			return h.pipeline.Backfill(ctx, start, end)
		}
	case "incremental":
		run = func(ctx context.Context) (*pipeline.RunSummary, error) {
			return h.pipeline.Incremental(ctx, time.Now().UTC())
		}
	default:
		respondError(w, http.StatusBadRequest, "Invalid mode (valid: backfill, incremental)")
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		respondError(w, http.StatusConflict, "A run is already in progress")
		return
	}
	h.running = true
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
		}()

		summary, err := run(context.Background())
		if err != nil {
			h.logger.WithError(err).WithField("mode", req.Mode).Error("Triggered run failed")
			return
		}
		h.logger.WithFields(map[string]interface{}{
			"mode":         summary.Mode,
			"feature_rows": summary.FeatureRows,
			"label_rows":   summary.LabelRows,
			"failures":     len(summary.Failures),
		}).Info("Triggered run finished")
	}()

	respondJSON(w, http.StatusAccepted, RunResponse{Status: "accepted", Mode: req.Mode})
}

// GetJobs returns scheduler job statistics
// GET /api/jobs
func (h *ETLHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondJSON(w, http.StatusOK, map[string]scheduler.JobStats{})
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.GetJobStats())
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
