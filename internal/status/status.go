package status

import (
	"errors"
	"fmt"
)

var (
	ErrLoad               = errors.New("widget: sdk failed to load")
	ErrGatewayUnavailable = errors.New("gateway: widget entry point unavailable")
	ErrCompose            = errors.New("compose: pending transaction rejected")
	ErrPaymentFailure     = errors.New("payment: payment failed")
	ErrReconciliation     = errors.New("reconcile: payment confirmed but not recorded")

	ErrBusy         = errors.New("payflow: a transaction is already in flight")
	ErrInvalidState = errors.New("payflow: operation not allowed in current state")
	ErrValidation   = errors.New("form: invalid payload")
)

// Kind tags a Failure with its place in the error taxonomy.
type Kind string

const (
	KindLoad               Kind = "load_error"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindCompose            Kind = "compose_error"
	KindPayment            Kind = "payment_failure"
	KindReconciliation     Kind = "reconciliation_error"
)

func (k Kind) sentinel() error {
	switch k {
	case KindLoad:
		return ErrLoad
	case KindGatewayUnavailable:
		return ErrGatewayUnavailable
	case KindCompose:
		return ErrCompose
	case KindPayment:
		return ErrPaymentFailure
	case KindReconciliation:
		return ErrReconciliation
	}
	return nil
}

// KindOf maps an error chain onto the taxonomy. The second result is false
// when err carries none of the taxonomy sentinels.
func KindOf(err error) (Kind, bool) {
	for _, k := range []Kind{KindReconciliation, KindPayment, KindCompose, KindGatewayUnavailable, KindLoad} {
		if errors.Is(err, k.sentinel()) {
			return k, true
		}
	}
	return "", false
}

type Severity string

const (
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Failure is the reason carried by the orchestrator's Failed state.
type Failure struct {
	Kind Kind
	Err  error

	// Code and Message are filled from the gateway for payment failures.
	Code    string
	Message string

	// GatewayTxID is the provider transaction id when one is known.
	GatewayTxID string
}

func NewFailure(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, f.Code)
	}
	if f.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	if f.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, f.Message)
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool {
	return target != nil && target == f.Kind.sentinel()
}

// Severity is critical only when money may have moved without a platform record.
func (f *Failure) Severity() Severity {
	if f.Kind == KindReconciliation {
		return SeverityCritical
	}
	return SeverityError
}

// Dismissible reports whether the form may simply return to an editable state.
func (f *Failure) Dismissible() bool {
	return f.Kind != KindReconciliation
}

func (f *Failure) UserMessage() string {
	switch f.Kind {
	case KindLoad:
		return "The payment service could not be loaded. Check your connection and try again."
	case KindGatewayUnavailable:
		return "The payment service is temporarily unavailable. Please try again."
	case KindCompose:
		return "Your request could not be registered. Please check the form and try again."
	case KindPayment:
		if f.Message != "" {
			return "Payment failed: " + f.Message
		}
		return "Payment failed. No money was taken, you may try again."
	case KindReconciliation:
		if f.GatewayTxID == "" {
			return "Your payment was received by the operator but is not yet recorded. " +
				"Do not pay again. Contact support with your payment reference."
		}
		return fmt.Sprintf("Your payment was received by the operator but is not yet recorded. "+
			"Do not pay again. Contact support with transaction id %s.", f.GatewayTxID)
	}
	return "Unexpected error."
}
