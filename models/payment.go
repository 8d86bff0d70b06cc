package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction type tags sent in the reconciliation data block.
const (
	TypeContribution = "cotisation_tontine"
	TypeDeposit      = "depot_epargne"
	TypeRepayment    = "loan_repayment"
)

const (
	EventPaymentSuccess = "payment.success"
	StatusSuccess       = "SUCCESS"

	// TimestampLayout matches the ISO8601 form the dashboard emits.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// PendingTransaction is the backend record created before the user is asked to pay.
// It is immutable once created.
type PendingTransaction struct {
	ID        string          `json:"id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"montant"`
	Phone     string          `json:"phone"`
	Type      string          `json:"type"`
	ActorID   string          `json:"user_id"`

	// Form is the validated payload the transaction was composed from.
	Form any `json:"form_data"`

	// Records holds the domain record identifiers echoed by the backend,
	// e.g. cotisation_ids, deposit_ids or echeance_id.
	Records map[string]any `json:"records,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Success is the gateway payload for a completed payment.
type Success struct {
	TransactionID string          `json:"transactionId"`
	Phone         string          `json:"phone,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status,omitempty"`
}

// Failure is the gateway payload for a failed or cancelled payment.
type Failure struct {
	TransactionID string `json:"transactionId,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
}

// ReconciliationRecord is the simulated webhook body confirming a Success.
type ReconciliationRecord struct {
	TransactionID string             `json:"transactionId"`
	Event         string             `json:"event"`
	Timestamp     string             `json:"timestamp"`
	Amount        json.Number        `json:"amount"`
	Status        string             `json:"status"`
	Data          ReconciliationData `json:"data"`
}

type ReconciliationData struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	UserID        string `json:"user_id"`
	Type          string `json:"type"`
	FormData      any    `json:"form_data"`

	// Records are flattened into the data object next to the fixed fields.
	Records map[string]any `json:"-"`
}

func (d ReconciliationData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Records)+5)
	for k, v := range d.Records {
		out[k] = v
	}
	out["transaction_id"] = d.TransactionID
	out["reference"] = d.Reference
	out["user_id"] = d.UserID
	out["type"] = d.Type
	out["form_data"] = d.FormData
	return json.Marshal(out)
}

// NewReconciliationRecord joins a gateway success to the transaction it was bound to.
// The amount is always the backend-confirmed tx.Amount.
func NewReconciliationRecord(tx PendingTransaction, outcome Success, at time.Time) ReconciliationRecord {
	return ReconciliationRecord{
		TransactionID: outcome.TransactionID,
		Event:         EventPaymentSuccess,
		Timestamp:     at.UTC().Format(TimestampLayout),
		Amount:        json.Number(tx.Amount.String()),
		Status:        StatusSuccess,
		Data: ReconciliationData{
			TransactionID: tx.ID,
			Reference:     tx.Reference,
			UserID:        tx.ActorID,
			Type:          tx.Type,
			FormData:      tx.Form,
			Records:       tx.Records,
		},
	}
}
