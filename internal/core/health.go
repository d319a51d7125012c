package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// healthPublishInterval is how often a snapshot goes to MQTT.
const healthPublishInterval = 30 * time.Second

// HealthStatus represents the health state of the watcher.
type HealthStatus struct {
	Status          string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64  `json:"uptime_seconds"`
	SourceConnected bool   `json:"source_connected"`
	MQTTConnected   bool   `json:"mqtt_connected"`
	Paused          bool   `json:"paused"`
	DryRun          bool   `json:"dry_run"`
	Awaiting        bool   `json:"awaiting_confirmation"`
	LinesRead       uint64 `json:"lines_read"`
	FramesParsed    uint64 `json:"frames_parsed"`
	Injections      uint64 `json:"injections"`
	RateLimited     uint64 `json:"rate_limited"`
}

// HealthCheck returns the current health status.
func (w *Watcher) HealthCheck() HealthStatus {
	w.mu.RLock()
	running := w.isRunning
	started := w.started
	w.mu.RUnlock()

	sourceStats := w.source.Stats()

	status := HealthStatus{
		Status:          "healthy",
		UptimeSeconds:   int64(time.Since(started).Seconds()),
		SourceConnected: sourceStats.Running,
		Paused:          w.paused.Load(),
		DryRun:          w.dryRun.Load(),
		Awaiting:        w.awaiting.Load(),
		LinesRead:       sourceStats.LinesRead,
		FramesParsed:    w.framesParsed.Load(),
		Injections:      w.injections.Load(),
		RateLimited:     w.rateLimited.Load(),
	}

	if w.emitter != nil {
		status.MQTTConnected = w.emitter.IsConnected()
	}

	if !running {
		status.Status = "unhealthy"
	} else if !status.SourceConnected || (w.emitter != nil && !status.MQTTConnected) {
		status.Status = "degraded"
	}

	return status
}

// healthLoop periodically publishes health snapshots over MQTT.
func (w *Watcher) healthLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(healthPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(w.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health snapshot", "error", err)
				continue
			}
			if err := w.emitter.PublishHealth(payload); err != nil {
				slog.Debug("failed to publish health snapshot", "error", err)
			}
		}
	}
}

// LivenessHandler handles /health (simple liveness check).
func (w *Watcher) LivenessHandler(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(w.started).Seconds()),
	})
}

// ReadinessHandler handles /readiness (detailed readiness check).
func (w *Watcher) ReadinessHandler(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")

	health := w.HealthCheck()
	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(health)
}

// StartHealthServer starts the HTTP health server; non-blocking.
func (w *Watcher) StartHealthServer(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", w.LivenessHandler)
	mux.HandleFunc("/readiness", w.ReadinessHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health server",
		"port", port,
		"endpoints", []string{"/health", "/readiness"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	return nil
}
