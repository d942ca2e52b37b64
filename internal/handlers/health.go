package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/caseflowai/caseflow/internal/orchestrator"
)

type HealthHandler struct {
	logger       *slog.Logger
	orch         *orchestrator.Orchestrator
	pollInterval time.Duration
	maxPerPoll   int
}

func NewHealthHandler(log *slog.Logger, orch *orchestrator.Orchestrator, pollInterval time.Duration, maxPerPoll int) *HealthHandler {
	return &HealthHandler{
		logger:       log.With(slog.String("handler", "health")),
		orch:         orch,
		pollInterval: pollInterval,
		maxPerPoll:   maxPerPoll,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

func (h *HealthHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":                "healthy",
		"service":               "caseflow",
		"counters":              h.orch.Counters(),
		"poll_interval_seconds": int(h.pollInterval.Seconds()),
		"max_emails_per_poll":   h.maxPerPoll,
	})
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
