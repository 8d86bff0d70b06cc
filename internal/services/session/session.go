package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"payflow/internal/services/gateway"
	"payflow/internal/services/orchestrator"
	"payflow/internal/services/shell"
	"payflow/internal/services/widget"
	"payflow/internal/status"
	"payflow/models"
)

var ErrUnknownKind = errors.New("session: unknown payment kind")

// Session is one dashboard page: its own SDK scope, widget adapter and
// orchestrator. Nothing is shared between sessions but the backend client
// and the SDK provider.
type Session struct {
	ID        string
	ActorID   string
	CreatedAt time.Time

	page    *widget.Page
	loader  *widget.Loader
	adapter *gateway.Adapter
	orch    *orchestrator.Orchestrator

	products map[shell.Kind]shell.Product
	backend  shell.Backend

	lastSeen atomic.Int64
}

// View is the state a client polls for.
type View struct {
	ID          string                `json:"id"`
	ActorID     string                `json:"actor_id"`
	CreatedAt   time.Time             `json:"created_at"`
	WidgetReady bool                  `json:"widget_ready"`
	State       orchestrator.Snapshot `json:"state"`
}

func (s *Session) View() View {
	return View{
		ID:          s.ID,
		ActorID:     s.ActorID,
		CreatedAt:   s.CreatedAt,
		WidgetReady: s.adapter.Ready(),
		State:       orchestrator.Describe(s.orch.State()),
	}
}

func (s *Session) State() orchestrator.State {
	return s.orch.State()
}

// Preload fetches the SDK ahead of the first submit.
func (s *Session) Preload(ctx context.Context) error {
	return s.loader.EnsureLoaded(ctx)
}

// Submit decodes raw as a form of the given kind and starts a payment for it.
func (s *Session) Submit(ctx context.Context, kind shell.Kind, raw []byte) (models.PendingTransaction, error) {
	product, ok := s.products[kind]
	if !ok {
		return models.PendingTransaction{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	sh := shell.New(product, s.backend, s.ActorID)
	form, err := sh.Decode(raw)
	if err != nil {
		return models.PendingTransaction{}, fmt.Errorf("%w: %v", status.ErrValidation, err)
	}
	return s.orch.Submit(ctx, sh, form)
}

func (s *Session) Cancel() error {
	return s.orch.Cancel()
}

func (s *Session) Acknowledge() error {
	return s.orch.Acknowledge()
}

func (s *Session) RetryReconciliation(ctx context.Context) error {
	return s.orch.RetryReconciliation(ctx)
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

func productByType(products map[shell.Kind]shell.Product, txType string) (shell.Product, bool) {
	for _, p := range products {
		if p.Type == txType {
			return p, true
		}
	}
	return shell.Product{}, false
}
