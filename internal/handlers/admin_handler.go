package handlers

import (
	"context"
	"net/http"

	"payflow/internal/services/audit"
	"payflow/internal/services/session"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type Attempts interface {
	Unresolved(ctx context.Context) ([]audit.Attempt, error)
}

type AdminHandler struct {
	sessions *session.Manager
	attempts Attempts
}

func NewAdminHandler(sessions *session.Manager, attempts Attempts) *AdminHandler {
	return &AdminHandler{
		sessions: sessions,
		attempts: attempts,
	}
}

// ListSessions - Live sessions and their phases
func (h *AdminHandler) ListSessions(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	views := []session.View{}
	for _, s := range h.sessions.List() {
		views = append(views, s.View())
	}
	return e.JSON(http.StatusOK, map[string]any{
		"sessions": views,
		"total":    len(views),
	})
}

// PendingReconciliations - Payments taken by the operator but never recorded
func (h *AdminHandler) PendingReconciliations(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	rows, err := h.attempts.Unresolved(e.Request.Context())
	if err != nil {
		return apis.NewBadRequestError("Failed to get pending reconciliations", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"attempts": rows,
		"total":    len(rows),
	})
}
