package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"payflow/internal/services/gateway"
	"payflow/internal/status"
	"payflow/models"
	"payflow/monitoring"

	"github.com/shopspring/decimal"
)

// Payload is a validated form payload.
type Payload interface {
	Amount() decimal.Decimal
	Phone() string
}

// Shell is the product-specific side of a payment: contribution, deposit or
// loan repayment.
type Shell interface {
	Type() string
	Validate(p Payload) error
	Compose(ctx context.Context, p Payload) (models.PendingTransaction, error)
	Reconcile(ctx context.Context, outcome models.Success, tx models.PendingTransaction) error
	Describe(tx models.PendingTransaction) string
}

type Gateway interface {
	Open(ctx context.Context, cfg gateway.Config) error
	RegisterOutcomeListeners(ctx context.Context, onSuccess gateway.SuccessListener, onFailure gateway.FailureListener) error
}

// Hooks run with the orchestrator locked; they must neither block nor call back into it.
type Hooks struct {
	OnTransition func(from, to State)
	OnSuccess    func(outcome models.Success, tx models.PendingTransaction)
}

type Options struct {
	// ReconcileTimeout bounds the reconcile call started from a gateway callback.
	ReconcileTimeout time.Duration
	Hooks            Hooks
	Logger           *slog.Logger
}

// Orchestrator runs compose, pay and reconcile for one transaction at a time.
// AwaitingPayment has no timeout.
type Orchestrator struct {
	gw   Gateway
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	state   State
	shell   Shell
	attempt uint64
}

func New(gw Gateway, opts Options) *Orchestrator {
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gw:    gw,
		opts:  opts,
		log:   logger,
		state: Idle{},
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// setState must be called with mu held.
func (o *Orchestrator) setState(to State) {
	from := o.state
	o.state = to

	monitoring.TrackTransition(string(from.Phase()), string(to.Phase()))
	if f, ok := to.(Failed); ok && f.Reason != nil {
		monitoring.TrackFailure(string(f.Reason.Kind))
	}
	if o.opts.Hooks.OnTransition != nil {
		o.opts.Hooks.OnTransition(from, to)
	}
}

// Submit composes a pending transaction for p and opens the widget for it.
// It returns once the orchestrator is awaiting payment, or with the failure
// that moved it to Failed. It is rejected without side effects unless the
// orchestrator is Idle or Failed.
func (o *Orchestrator) Submit(ctx context.Context, sh Shell, p Payload) (models.PendingTransaction, error) {
	o.mu.Lock()
	switch o.state.(type) {
	case Idle, Failed:
	default:
		o.mu.Unlock()
		return models.PendingTransaction{}, status.ErrBusy
	}
	if err := sh.Validate(p); err != nil {
		o.mu.Unlock()
		return models.PendingTransaction{}, fmt.Errorf("%w: %v", status.ErrValidation, err)
	}

	o.attempt++
	attempt := o.attempt
	o.shell = sh
	o.setState(Composing{Attempt: attempt, Type: sh.Type()})
	o.mu.Unlock()

	tx, err := sh.Compose(ctx, p)

	o.mu.Lock()
	if cur, ok := o.state.(Composing); !ok || cur.Attempt != attempt {
		o.mu.Unlock()
		o.log.Warn("orchestrator: compose finished after cancel, discarding", "type", sh.Type(), "tx", tx.ID)
		return models.PendingTransaction{}, fmt.Errorf("%w: submission was cancelled", status.ErrInvalidState)
	}
	if err != nil {
		f := status.NewFailure(status.KindCompose, err)
		o.setState(Failed{Reason: f})
		o.mu.Unlock()
		o.log.Error("orchestrator: compose failed", "type", sh.Type(), "error", err)
		return models.PendingTransaction{}, f
	}
	o.setState(AwaitingPayment{Tx: tx})
	o.mu.Unlock()

	o.log.Info("orchestrator: pending transaction created", "type", tx.Type, "tx", tx.ID, "reference", tx.Reference, "amount", tx.Amount.String())

	err = o.gw.RegisterOutcomeListeners(ctx, o.successListener(tx), o.failureListener(tx))
	if err == nil {
		err = o.gw.Open(ctx, gateway.Config{
			Amount:      tx.Amount,
			Phone:       tx.Phone,
			Description: sh.Describe(tx),
		})
	}
	if err != nil {
		return tx, o.openFailed(tx, err)
	}
	return tx, nil
}

func (o *Orchestrator) openFailed(tx models.PendingTransaction, err error) error {
	kind := status.KindGatewayUnavailable
	if errors.Is(err, status.ErrLoad) {
		kind = status.KindLoad
	}
	f := status.NewFailure(kind, err)

	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.state.(AwaitingPayment); ok && cur.Tx.ID == tx.ID {
		o.setState(Failed{Reason: f})
	}
	o.log.Error("orchestrator: widget could not be opened", "tx", tx.ID, "kind", kind, "error", err)
	return f
}

// bound reports whether an outcome for tx may act on the current state.
// Must be called with mu held.
func (o *Orchestrator) bound(tx models.PendingTransaction) (AwaitingPayment, bool) {
	cur, ok := o.state.(AwaitingPayment)
	if !ok || cur.Tx.ID != tx.ID {
		return AwaitingPayment{}, false
	}
	return cur, true
}

func (o *Orchestrator) successListener(tx models.PendingTransaction) gateway.SuccessListener {
	return func(outcome models.Success) {
		o.mu.Lock()
		cur, ok := o.bound(tx)
		if !ok {
			phase := o.state.Phase()
			o.mu.Unlock()
			monitoring.TrackOutcome(tx.Type, "success", "dropped")
			o.log.Warn("orchestrator: dropping success for stale transaction",
				"tx", tx.ID, "gateway_tx", outcome.TransactionID, "phase", phase)
			return
		}
		sh := o.shell
		o.setState(Reconciling{Tx: cur.Tx, Outcome: outcome})
		o.mu.Unlock()

		monitoring.TrackOutcome(tx.Type, "success", "accepted")

		ctx, cancel := context.WithTimeout(context.Background(), o.opts.ReconcileTimeout)
		defer cancel()
		o.reconcile(ctx, sh, cur.Tx, outcome)
	}
}

func (o *Orchestrator) failureListener(tx models.PendingTransaction) gateway.FailureListener {
	return func(outcome models.Failure) {
		o.mu.Lock()
		defer o.mu.Unlock()

		if _, ok := o.bound(tx); !ok {
			monitoring.TrackOutcome(tx.Type, "failure", "dropped")
			o.log.Warn("orchestrator: dropping failure for stale transaction",
				"tx", tx.ID, "code", outcome.Code, "phase", o.state.Phase())
			return
		}
		monitoring.TrackOutcome(tx.Type, "failure", "accepted")

		f := &status.Failure{
			Kind:        status.KindPayment,
			Err:         status.ErrPaymentFailure,
			Code:        outcome.Code,
			Message:     outcome.Message,
			GatewayTxID: outcome.TransactionID,
		}
		// the pending transaction stays on the backend, expiry is the backend's job
		o.setState(Failed{Reason: f})
		o.log.Info("orchestrator: payment failed", "tx", tx.ID, "code", outcome.Code, "message", outcome.Message)
	}
}

func (o *Orchestrator) reconcile(ctx context.Context, sh Shell, tx models.PendingTransaction, outcome models.Success) error {
	err := sh.Reconcile(ctx, outcome, tx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if cur, ok := o.state.(Reconciling); !ok || cur.Tx.ID != tx.ID {
		return fmt.Errorf("%w: reconciliation finished in phase %s", status.ErrInvalidState, o.state.Phase())
	}

	if err != nil {
		f := &status.Failure{
			Kind:        status.KindReconciliation,
			Err:         err,
			GatewayTxID: outcome.TransactionID,
		}
		o.setState(Failed{Reason: f, Tx: &tx, Outcome: &outcome})
		o.log.Error("orchestrator: reconciliation failed, payment is not recorded",
			"tx", tx.ID, "reference", tx.Reference, "gateway_tx", outcome.TransactionID, "error", err)
		return f
	}

	o.shell = nil
	o.setState(Idle{})
	o.log.Info("orchestrator: payment reconciled", "tx", tx.ID, "reference", tx.Reference, "gateway_tx", outcome.TransactionID)
	if o.opts.Hooks.OnSuccess != nil {
		o.opts.Hooks.OnSuccess(outcome, tx)
	}
	return nil
}

// Cancel abandons the local flow. It cannot close the widget; an outcome that
// still arrives for the abandoned transaction is dropped.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch st := o.state.(type) {
	case Idle:
		return nil
	case Composing:
		o.log.Info("orchestrator: cancelled while composing", "type", st.Type)
	case AwaitingPayment:
		o.log.Info("orchestrator: cancelled while awaiting payment", "tx", st.Tx.ID, "reference", st.Tx.Reference)
	default:
		return fmt.Errorf("%w: cannot cancel in phase %s", status.ErrInvalidState, st.Phase())
	}

	o.shell = nil
	o.setState(Idle{})
	return nil
}

// Acknowledge clears a Failed state.
func (o *Orchestrator) Acknowledge() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.state.(Failed); !ok {
		return fmt.Errorf("%w: nothing to acknowledge in phase %s", status.ErrInvalidState, o.state.Phase())
	}
	o.shell = nil
	o.setState(Idle{})
	return nil
}

// RetryReconciliation posts the reconciliation once more for a
// Failed(ReconciliationError). It is only ever user-initiated.
func (o *Orchestrator) RetryReconciliation(ctx context.Context) error {
	o.mu.Lock()
	st, ok := o.state.(Failed)
	if !ok || st.Reason == nil || st.Reason.Kind != status.KindReconciliation || st.Tx == nil || st.Outcome == nil || o.shell == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: no reconciliation to retry", status.ErrInvalidState)
	}
	sh, tx, outcome := o.shell, *st.Tx, *st.Outcome
	o.setState(Reconciling{Tx: tx, Outcome: outcome})
	o.mu.Unlock()

	o.log.Info("orchestrator: retrying reconciliation", "tx", tx.ID, "gateway_tx", outcome.TransactionID)
	return o.reconcile(ctx, sh, tx, outcome)
}

// Restore reinstates a persisted reconciliation failure so it can be retried
// after a restart. Only an Idle orchestrator accepts it.
func (o *Orchestrator) Restore(f Failed, sh Shell) error {
	if f.Reason == nil || f.Reason.Kind != status.KindReconciliation || f.Tx == nil || f.Outcome == nil {
		return fmt.Errorf("%w: only reconciliation failures can be restored", status.ErrInvalidState)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.state.(Idle); !ok {
		return status.ErrBusy
	}
	o.shell = sh
	o.setState(f)
	return nil
}
