package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caseflowai/caseflow/internal/auth"
	"github.com/caseflowai/caseflow/internal/cases"
	"github.com/caseflowai/caseflow/internal/mail"
	"github.com/caseflowai/caseflow/internal/orchestrator"
)

// CasesHandler exposes the workflow over HTTP: start a case, inject or
// poll for emails, and inspect case state.
type CasesHandler struct {
	logger   *slog.Logger
	store    cases.Store
	orch     *orchestrator.Orchestrator
	poller   *orchestrator.Poller
	messages mail.MessageReader
}

func NewCasesHandler(log *slog.Logger, store cases.Store, orch *orchestrator.Orchestrator, poller *orchestrator.Poller, messages mail.MessageReader) *CasesHandler {
	return &CasesHandler{
		logger:   log.With(slog.String("handler", "cases")),
		store:    store,
		orch:     orch,
		poller:   poller,
		messages: messages,
	}
}

func (h *CasesHandler) Register(e *echo.Echo) {
	e.POST("/api/v1/initiate", h.Initiate)
	e.POST("/api/v1/process/email", h.ProcessEmail)
	e.GET("/api/v1/state", h.ListState)
	e.GET("/api/v1/state/:email", h.GetState)
}

type initiateRequest struct {
	EmployeeEmail string `json:"employee_email" validate:"required,email"`
}

func (h *CasesHandler) Initiate(c echo.Context) error {
	var payload initiateRequest
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&payload); err != nil {
		return err
	}

	requestedBy := "anonymous"
	if userID, err := auth.UserIDFromContext(c); err == nil {
		requestedBy = userID
	}
	h.logger.Info("case initiation requested",
		slog.String("employee_email", payload.EmployeeEmail),
		slog.String("requested_by", requestedBy))

	res, err := h.orch.Initiate(c.Request().Context(), payload.EmployeeEmail)
	if err != nil {
		h.logger.Error("initiate failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to initiate case")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "success",
		"employee_email": res.CaseID,
		"action":         res.Action,
	})
}

// processEmailRequest injects one email directly (from/body set), looks
// one up in the mailbox (message_id only), or, when empty, asks the
// poller to sweep the mailbox now.
type processEmailRequest struct {
	MessageID string `json:"message_id"`
	From      string `json:"from" validate:"omitempty,email"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ThreadID  string `json:"thread_id"`
}

func (h *CasesHandler) ProcessEmail(c echo.Context) error {
	var payload processEmailRequest
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&payload); err != nil {
		return err
	}

	ctx := c.Request().Context()

	if payload.From != "" {
		id := payload.MessageID
		if id == "" {
			id = uuid.NewString()
		}
		res, err := h.orch.ProcessMessage(ctx, mail.InboundMessage{
			ID:         id,
			From:       payload.From,
			Subject:    payload.Subject,
			Body:       payload.Body,
			ThreadID:   payload.ThreadID,
			ReceivedAt: time.Now().UTC(),
		})
		if err != nil {
			h.logger.Error("email processing failed", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status": "success",
			"result": res,
		})
	}

	if payload.MessageID != "" {
		if h.messages == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "mail adapter cannot look messages up by id")
		}
		msg, err := h.messages.MessageByID(ctx, payload.MessageID)
		if err != nil {
			h.logger.Error("message lookup failed", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "message lookup failed")
		}
		if msg == nil {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		res, err := h.orch.ProcessMessage(ctx, *msg)
		if err != nil {
			h.logger.Error("email processing failed", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status": "success",
			"result": res,
		})
	}

	if h.poller == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no mailbox configured for polling")
	}
	processed, err := h.poller.PollOnce(ctx)
	if err != nil {
		h.logger.Error("poll failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "poll failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "success",
		"processed_count": processed,
	})
}

func (h *CasesHandler) ListState(c echo.Context) error {
	all, err := h.store.ListAll(c.Request().Context())
	if err != nil {
		h.logger.Error("list cases failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list cases")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "success",
		"cases":       all,
		"total_cases": len(all),
	})
}

func (h *CasesHandler) GetState(c echo.Context) error {
	email := c.Param("email")
	cs, ok, err := h.store.Get(c.Request().Context(), email)
	if err != nil {
		h.logger.Error("get case failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load case")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"case":   cs,
	})
}
