package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"payflow/models"

	"github.com/shopspring/decimal"
)

const (
	EventSuccess = "success"
	EventFailed  = "failed"
)

// Outcome is the wire form of a widget result as an SDK receives it.
type Outcome struct {
	Event         string          `json:"event"`
	TransactionID string          `json:"transactionId,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status,omitempty"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
}

func (o Outcome) Success() models.Success {
	return models.Success{
		TransactionID: o.TransactionID,
		Phone:         o.Phone,
		Amount:        o.Amount,
		Status:        o.Status,
	}
}

func (o Outcome) Failure() models.Failure {
	return models.Failure{
		TransactionID: o.TransactionID,
		Code:          o.Code,
		Message:       o.Message,
	}
}

// DecodeOutcome accepts a JSON string, raw bytes, or an already decoded object.
func DecodeOutcome(v any) (Outcome, error) {
	var raw []byte
	switch m := v.(type) {
	case string:
		raw = []byte(m)
	case []byte:
		raw = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return Outcome{}, fmt.Errorf("decodeOutcome: json.Marshal: %w", err)
		}
		raw = b
	}

	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return Outcome{}, fmt.Errorf("decodeOutcome: json.Unmarshal: %w", err)
	}
	if o.Event != EventSuccess && o.Event != EventFailed {
		return Outcome{}, fmt.Errorf("decodeOutcome: unknown event %q", o.Event)
	}
	if o.Event == EventSuccess && strings.TrimSpace(o.TransactionID) == "" {
		return Outcome{}, fmt.Errorf("decodeOutcome: success without transactionId")
	}
	return o, nil
}

// Listeners is the single global listener pair an SDK keeps. Adding a listener
// replaces the previous one.
type Listeners struct {
	mu        sync.RWMutex
	onSuccess SuccessListener
	onFailure FailureListener
}

func (l *Listeners) AddSuccessListener(fn SuccessListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSuccess = fn
}

func (l *Listeners) AddFailedListener(fn FailureListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFailure = fn
}

// Dispatch calls the current listener for o. It reports false when none is registered.
func (l *Listeners) Dispatch(o Outcome) bool {
	l.mu.RLock()
	onSuccess, onFailure := l.onSuccess, l.onFailure
	l.mu.RUnlock()

	switch o.Event {
	case EventSuccess:
		if onSuccess == nil {
			return false
		}
		onSuccess(o.Success())
	case EventFailed:
		if onFailure == nil {
			return false
		}
		onFailure(o.Failure())
	default:
		return false
	}
	return true
}
