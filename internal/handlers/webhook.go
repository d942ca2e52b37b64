package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caseflowai/caseflow/internal/mail"
	mailgunadapter "github.com/caseflowai/caseflow/internal/mail/adapters/mailgun"
	"github.com/caseflowai/caseflow/internal/orchestrator"
)

// WebhookHandler receives inbound email pushed by the transport.
type WebhookHandler struct {
	logger   *slog.Logger
	registry *mail.Registry
	orch     *orchestrator.Orchestrator
}

func NewWebhookHandler(log *slog.Logger, registry *mail.Registry, orch *orchestrator.Orchestrator) *WebhookHandler {
	return &WebhookHandler{
		logger:   log.With(slog.String("handler", "webhook")),
		registry: registry,
		orch:     orch,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/mailgun", h.HandleMailgun)
}

func (h *WebhookHandler) HandleMailgun(c echo.Context) error {
	receiver, ok := h.registry.WebhookReceiver(mailgunadapter.Name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "mailgun adapter not configured")
	}

	inbound, err := receiver.HandleWebhook(c.Request().Context(), c.Request())
	if err != nil {
		h.logger.Error("webhook handling failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	res, err := h.orch.ProcessMessage(c.Request().Context(), *inbound)
	if err != nil {
		h.logger.Error("inbound processing failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"result": res,
	})
}
