package orchestrator

import (
	"payflow/internal/status"
	"payflow/models"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseComposing       Phase = "composing"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhaseReconciling     Phase = "reconciling"
	PhaseFailed          Phase = "failed"
)

// State is one of Idle, Composing, AwaitingPayment, Reconciling or Failed.
type State interface {
	Phase() Phase
	isState()
}

type Idle struct{}

type Composing struct {
	Attempt uint64
	Type    string
}

type AwaitingPayment struct {
	Tx models.PendingTransaction
}

type Reconciling struct {
	Tx      models.PendingTransaction
	Outcome models.Success
}

// Failed carries the reason and, for reconciliation failures, the matched
// pair needed to retry by hand.
type Failed struct {
	Reason  *status.Failure
	Tx      *models.PendingTransaction
	Outcome *models.Success
}

func (Idle) Phase() Phase            { return PhaseIdle }
func (Composing) Phase() Phase       { return PhaseComposing }
func (AwaitingPayment) Phase() Phase { return PhaseAwaitingPayment }
func (Reconciling) Phase() Phase     { return PhaseReconciling }
func (Failed) Phase() Phase          { return PhaseFailed }

func (Idle) isState()            {}
func (Composing) isState()       {}
func (AwaitingPayment) isState() {}
func (Reconciling) isState()     {}
func (Failed) isState()          {}

// Snapshot is the serializable view of a State.
type Snapshot struct {
	Phase   Phase                      `json:"phase"`
	Tx      *models.PendingTransaction `json:"transaction,omitempty"`
	Outcome *models.Success            `json:"outcome,omitempty"`
	Failure *FailureView               `json:"failure,omitempty"`
}

type FailureView struct {
	Kind        status.Kind     `json:"kind"`
	Severity    status.Severity `json:"severity"`
	Dismissible bool            `json:"dismissible"`
	Code        string          `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	GatewayTxID string          `json:"gateway_transaction_id,omitempty"`
	UserMessage string          `json:"user_message"`
	Error       string          `json:"error"`
}

func Describe(s State) Snapshot {
	snap := Snapshot{Phase: s.Phase()}

	switch st := s.(type) {
	case AwaitingPayment:
		snap.Tx = &st.Tx
	case Reconciling:
		snap.Tx = &st.Tx
		snap.Outcome = &st.Outcome
	case Failed:
		snap.Tx = st.Tx
		snap.Outcome = st.Outcome
		if f := st.Reason; f != nil {
			snap.Failure = &FailureView{
				Kind:        f.Kind,
				Severity:    f.Severity(),
				Dismissible: f.Dismissible(),
				Code:        f.Code,
				Message:     f.Message,
				GatewayTxID: f.GatewayTxID,
				UserMessage: f.UserMessage(),
				Error:       f.Error(),
			}
		}
	}
	return snap
}
