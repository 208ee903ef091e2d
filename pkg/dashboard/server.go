// Package dashboard exposes the read model over HTTP: a point-in-time
// view of the bus keyspace for the operator UI. It never writes to the
// bus.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/models"
	"github.com/hemostat/hemostat/pkg/version"
)

// Server is the dashboard HTTP API.
type Server struct {
	bus    *bus.Client
	cfg    config.Dashboard
	logger *slog.Logger
}

func New(b *bus.Client, cfg config.Dashboard) *Server {
	return &Server{
		bus:    b,
		cfg:    cfg,
		logger: slog.Default().With("component", "dashboard"),
	}
}

// Router builds the gin handler. Split from Run so tests can drive it
// with httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	{
		api.GET("/containers", s.listContainers)
		api.GET("/events", s.listEvents)
		api.GET("/audit/:container", s.auditTrail)
		api.GET("/remediation/:container", s.remediationState)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Dashboard listening", "port", s.cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": version.AppName,
		"version": version.Version,
	})
}

func (s *Server) listContainers(c *gin.Context) {
	keys, err := s.bus.ScanStateKeys(c.Request.Context(), "container:*")
	if err != nil {
		s.logger.Error("Scanning container snapshots failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading container state failed"})
		return
	}

	containers := make([]models.ContainerSnapshot, 0, len(keys))
	for _, key := range keys {
		var snap models.ContainerSnapshot
		found, err := s.bus.GetState(c.Request.Context(), key, &snap)
		if err != nil || !found {
			// Key may have expired between scan and read.
			continue
		}
		containers = append(containers, snap)
	}
	c.JSON(http.StatusOK, gin.H{"containers": containers, "count": len(containers)})
}

func (s *Server) listEvents(c *gin.Context) {
	eventType := c.DefaultQuery("type", bus.EventsAllSuffix)
	raw, err := s.bus.ListEntries(c.Request.Context(), bus.EventsKey(eventType), 0)
	if err != nil {
		s.logger.Error("Reading events failed", "type", eventType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading events failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": decodeEntries(raw), "count": len(raw)})
}

func (s *Server) auditTrail(c *gin.Context) {
	container := c.Param("container")
	raw, err := s.bus.ListEntries(c.Request.Context(), bus.AuditKey(container), 0)
	if err != nil {
		s.logger.Error("Reading audit trail failed", "container", container, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading audit trail failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"container": container, "audit": decodeEntries(raw), "count": len(raw)})
}

func (s *Server) remediationState(c *gin.Context) {
	container := c.Param("container")
	ctx := c.Request.Context()

	var history models.RemediationHistory
	hasHistory, err := s.bus.GetState(ctx, "remediation_history:"+container, &history)
	if err != nil {
		s.logger.Error("Reading remediation history failed", "container", container, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading remediation state failed"})
		return
	}

	var breaker models.BreakerState
	hasBreaker, err := s.bus.GetState(ctx, "circuit_breaker:"+container, &breaker)
	if err != nil {
		s.logger.Error("Reading circuit breaker failed", "container", container, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading remediation state failed"})
		return
	}

	resp := gin.H{"container": container}
	if hasHistory {
		resp["history"] = history
	}
	if hasBreaker {
		resp["circuit_breaker"] = breaker
	}
	c.JSON(http.StatusOK, resp)
}

// decodeEntries turns raw list entries into JSON values so gin does not
// double-encode them as strings.
func decodeEntries(raw []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		out = append(out, json.RawMessage(r))
	}
	return out
}
