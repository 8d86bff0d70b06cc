package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"payflow/internal/services/gateway"
	"payflow/internal/services/session"
	"payflow/internal/services/shell"
	"payflow/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	sessions *session.Manager
}

func NewPaymentHandler(sessions *session.Manager) *PaymentHandler {
	return &PaymentHandler{sessions: sessions}
}

// CreateSession - Open a payment session for the dashboard page
func (h *PaymentHandler) CreateSession(e *core.RequestEvent) error {
	var req struct {
		UserID  string `json:"user_id"`
		Preload bool   `json:"preload"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	actorID := req.UserID
	if e.Auth != nil {
		actorID = e.Auth.Id
	}
	if actorID == "" {
		return apis.NewBadRequestError("Invalid request", errors.New("user id must not empty"))
	}

	s := h.sessions.Create(actorID)
	if req.Preload {
		ctx := context.WithoutCancel(e.Request.Context())
		go func() {
			if err := s.Preload(ctx); err != nil {
				slog.Warn("payment: sdk preload failed", "session", s.ID, "error", err)
			}
		}()
	}

	return e.JSON(http.StatusCreated, s.View())
}

// GetState - Current orchestrator state of a session
func (h *PaymentHandler) GetState(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, s.View())
}

// Submit - Compose a pending transaction from the form and open the widget
func (h *PaymentHandler) Submit(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(e.Request.Body)
	if err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	kind := shell.Kind(e.Request.PathValue("kind"))
	tx, err := s.Submit(e.Request.Context(), kind, raw)
	if err != nil {
		var f *status.Failure
		if errors.As(err, &f) {
			return e.JSON(failureStatus(f), s.View())
		}
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"transaction": tx,
		"session":     s.View(),
	})
}

// Cancel - Abandon the local flow
func (h *PaymentHandler) Cancel(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}
	if err := s.Cancel(); err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, s.View())
}

// Acknowledge - Dismiss a failure and return to an editable form
func (h *PaymentHandler) Acknowledge(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}
	if err := s.Acknowledge(); err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, s.View())
}

// RetryReconciliation - Post the reconciliation record once more
func (h *PaymentHandler) RetryReconciliation(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}

	if err := s.RetryReconciliation(e.Request.Context()); err != nil {
		var f *status.Failure
		if errors.As(err, &f) {
			return e.JSON(failureStatus(f), s.View())
		}
		return apiError(err)
	}
	return e.JSON(http.StatusOK, s.View())
}

// CloseSession - Drop the session
func (h *PaymentHandler) CloseSession(e *core.RequestEvent) error {
	if _, err := h.session(e); err != nil {
		return err
	}
	if err := h.sessions.Close(e.Request.Context(), e.Request.PathValue("id")); err != nil {
		return apiError(err)
	}
	return e.NoContent(http.StatusNoContent)
}

// SimulateOutcome - Deliver a widget outcome as the provider would (for testing)
func (h *PaymentHandler) SimulateOutcome(e *core.RequestEvent) error {
	var req struct {
		SessionID     string          `json:"session_id"`
		Event         string          `json:"event"`
		TransactionID string          `json:"transactionId"`
		Phone         string          `json:"phone"`
		Amount        decimal.Decimal `json:"amount"`
		Code          string          `json:"code"`
		Message       string          `json:"message"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Event != gateway.EventSuccess && req.Event != gateway.EventFailed {
		return apis.NewBadRequestError("event must be success or failed", nil)
	}

	err := h.sessions.Simulate(e.Request.Context(), req.SessionID, gateway.Outcome{
		Event:         req.Event,
		TransactionID: req.TransactionID,
		Phone:         req.Phone,
		Amount:        req.Amount,
		Code:          req.Code,
		Message:       req.Message,
	})
	if err != nil {
		slog.Error("h.sessions.Simulate()", "session", req.SessionID, "error", err)
		if errors.Is(err, session.ErrNotFound) {
			return apiError(err)
		}
		return apis.NewBadRequestError(err.Error(), nil)
	}

	return e.JSON(http.StatusOK, map[string]any{"message": "Outcome simulation sent"})
}

// session loads the {id} session and checks it belongs to the caller.
func (h *PaymentHandler) session(e *core.RequestEvent) (*session.Session, error) {
	s, err := h.sessions.Get(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return nil, apiError(err)
	}
	if e.Auth != nil && !e.HasSuperuserAuth() && e.Auth.Id != s.ActorID {
		return nil, apis.NewForbiddenError("Access denied", nil)
	}
	return s, nil
}

func failureStatus(f *status.Failure) int {
	switch f.Kind {
	case status.KindLoad, status.KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	case status.KindPayment:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

func apiError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return apis.NewNotFoundError("Session not found", nil)
	case errors.Is(err, session.ErrUnknownKind):
		return apis.NewNotFoundError("Unknown payment kind", nil)
	case errors.Is(err, status.ErrValidation):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrBusy):
		return apis.NewApiError(http.StatusConflict, "A payment is already in progress", nil)
	case errors.Is(err, status.ErrInvalidState):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	}
	slog.Error("payment: unexpected error", "error", err)
	return apis.NewInternalServerError("internal error", err)
}
