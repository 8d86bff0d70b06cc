package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payflow/internal/status"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// Collection holds one row per pending transaction, updated as it moves
// through the flow.
const Collection = "payment_attempts"

// Phases written to the collection beyond the orchestrator's own.
const (
	PhaseReconciled = "reconciled"
	PhaseCancelled  = "cancelled"
)

type Entry struct {
	SessionID   string
	ActorID     string
	TxID        string
	Reference   string
	Type        string
	Amount      decimal.Decimal
	Phase       string
	FailureKind string
	Code        string
	GatewayTxID string
	Error       string
}

// Attempt is a row of the collection as read back for support.
type Attempt struct {
	ID          string `db:"id" json:"id"`
	SessionID   string `db:"session_id" json:"session_id"`
	ActorID     string `db:"actor_id" json:"actor_id"`
	TxID        string `db:"tx_id" json:"tx_id"`
	Reference   string `db:"reference" json:"reference"`
	Type        string `db:"type" json:"type"`
	Amount      string `db:"amount" json:"amount"`
	Phase       string `db:"phase" json:"phase"`
	FailureKind string `db:"failure_kind" json:"failure_kind"`
	GatewayTxID string `db:"gateway_tx_id" json:"gateway_tx_id"`
	Error       string `db:"error" json:"error"`
	Updated     string `db:"updated" json:"updated"`
}

type Store struct {
	app core.App
}

func NewStore(app core.App) *Store {
	return &Store{app: app}
}

// Record upserts the attempt row keyed by the transaction id.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.TxID == "" {
		return errors.New("audit: entry without transaction id")
	}

	rec, err := s.app.FindFirstRecordByFilter(Collection, "tx_id = {:tx}", dbx.Params{"tx": e.TxID})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		col, err := s.app.FindCachedCollectionByNameOrId(Collection)
		if err != nil {
			return fmt.Errorf("audit: FindCachedCollectionByNameOrId: %w", err)
		}
		rec = core.NewRecord(col)
		rec.Set("tx_id", e.TxID)
	case err != nil:
		return fmt.Errorf("audit: FindFirstRecordByFilter: %w", err)
	}

	rec.Set("session_id", e.SessionID)
	rec.Set("actor_id", e.ActorID)
	rec.Set("reference", e.Reference)
	rec.Set("type", e.Type)
	rec.Set("amount", e.Amount.String())
	rec.Set("phase", e.Phase)
	rec.Set("failure_kind", e.FailureKind)
	rec.Set("code", e.Code)
	if e.GatewayTxID != "" {
		rec.Set("gateway_tx_id", e.GatewayTxID)
	}
	rec.Set("error", e.Error)

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("audit: Save: %w", err)
	}
	return nil
}

// Unresolved lists payments the operator confirmed but the backend never
// recorded, newest first.
func (s *Store) Unresolved(ctx context.Context) ([]Attempt, error) {
	rows := []Attempt{}
	err := s.app.DB().
		Select(
			"id",
			"session_id",
			"actor_id",
			"tx_id",
			"reference",
			"type",
			"amount",
			"phase",
			"failure_kind",
			"gateway_tx_id",
			"error",
			"updated",
		).
		From(Collection).
		Where(dbx.HashExp{
			"phase":        "failed",
			"failure_kind": string(status.KindReconciliation),
		}).
		OrderBy("updated DESC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("audit: unresolved: %w", err)
	}
	return rows, nil
}
