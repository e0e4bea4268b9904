// Package api exposes the ETL service over HTTP: dataset status, the feature
// manifest, manual run triggers, and a websocket feed of run progress.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantfold/marketetl/internal/api/handlers"
	"github.com/quantfold/marketetl/pkg/logger"
)

// NewRouter creates and configures the HTTP router.
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(etlHandler *handlers.ETLHandler, hub *handlers.ProgressHub, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// API v1
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", etlHandler.GetStatus).Methods("GET")
	api.HandleFunc("/manifest", etlHandler.GetManifest).Methods("GET")
	api.HandleFunc("/events", etlHandler.GetEvents).Methods("GET")
	api.HandleFunc("/etl/run", etlHandler.TriggerRun).Methods("POST")
	api.HandleFunc("/jobs", etlHandler.GetJobs).Methods("GET")

	// Run progress stream
	r.HandleFunc("/ws/progress", hub.Serve)

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "marketetl-api",
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics.
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
