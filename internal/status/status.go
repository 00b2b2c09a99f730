// Package status serves the worker's health and last-cycle summary over HTTP.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"market-watcher/internal/marketplace"
	"market-watcher/internal/service"
	"market-watcher/internal/storage"
	"market-watcher/internal/version"
)

// ReportSource yields the most recent cycle report.
type ReportSource interface {
	LastReport() (service.CycleReport, bool)
}

// Sources are what the status page reads. Any of them may be nil.
type Sources struct {
	Reports ReportSource
	Breaker *marketplace.Breaker
	Control storage.ControlStore
}

// Handler holds the status endpoints' dependencies.
type Handler struct {
	src     Sources
	started time.Time
}

// NewRouter builds the gin engine with /healthz and /status.
func NewRouter(src Sources, logger zerolog.Logger) *gin.Engine {
	h := &Handler{src: src, started: time.Now().UTC()}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger.With().Str("component", "status").Logger()))

	router.GET("/healthz", h.Health)
	router.GET("/status", h.Status)
	return router
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

// Status reports breaker state, the worker flag and the last cycle.
func (h *Handler) Status(c *gin.Context) {
	body := gin.H{
		"version":        version.Version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}

	if h.src.Breaker != nil {
		state := h.src.Breaker.State()
		breaker := gin.H{"open": state.Open, "consecutive_429": state.Consecutive}
		if state.Open {
			breaker["cooldown_until"] = state.CooldownUntil
		}
		body["breaker"] = breaker
	}

	if h.src.Control != nil {
		enabled, err := h.src.Control.WorkerEnabled(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		body["worker_enabled"] = enabled
	}

	if h.src.Reports != nil {
		if report, ok := h.src.Reports.LastReport(); ok {
			body["last_cycle"] = report
		}
	}

	c.JSON(http.StatusOK, body)
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("status request")
	}
}

// Serve runs the status server until ctx is cancelled.
func Serve(ctx context.Context, addr string, router http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
