package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   Kind
		wantOK bool
	}{
		{"load", fmt.Errorf("loader: %w", ErrLoad), KindLoad, true},
		{"gateway", ErrGatewayUnavailable, KindGatewayUnavailable, true},
		{"compose", fmt.Errorf("deposit: %w", ErrCompose), KindCompose, true},
		{"payment failure value", &Failure{Kind: KindPayment}, KindPayment, true},
		{"reconciliation", NewFailure(KindReconciliation, errors.New("500")), KindReconciliation, true},
		{"busy is not a failure kind", ErrBusy, "", false},
		{"plain error", errors.New("boom"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KindOf(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFailure_IsAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	f := NewFailure(KindCompose, cause)

	assert.ErrorIs(t, f, ErrCompose)
	assert.ErrorIs(t, f, cause)
	assert.NotErrorIs(t, f, ErrPaymentFailure)

	wrapped := fmt.Errorf("submit: %w", f)
	var got *Failure
	assert.True(t, errors.As(wrapped, &got))
	assert.Equal(t, KindCompose, got.Kind)
}

func TestFailure_Error(t *testing.T) {
	tests := []struct {
		name string
		f    *Failure
		want string
	}{
		{"cause only", NewFailure(KindCompose, errors.New("montant invalide")), "compose_error: montant invalide"},
		{
			"gateway message kept alongside the cause",
			&Failure{Kind: KindPayment, Err: ErrPaymentFailure, Code: "INSUFFICIENT_FUNDS", Message: "Solde insuffisant"},
			"payment_failure [INSUFFICIENT_FUNDS]: payment: payment failed: Solde insuffisant",
		},
		{"message only", &Failure{Kind: KindPayment, Message: "Annulé"}, "payment_failure: Annulé"},
		{"bare", &Failure{Kind: KindLoad}, "load_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.Error())
		})
	}
}

func TestFailure_SeverityAndDismissible(t *testing.T) {
	tests := []struct {
		kind        Kind
		severity    Severity
		dismissible bool
	}{
		{KindLoad, SeverityError, true},
		{KindGatewayUnavailable, SeverityError, true},
		{KindCompose, SeverityError, true},
		{KindPayment, SeverityError, true},
		{KindReconciliation, SeverityCritical, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := &Failure{Kind: tt.kind}
			assert.Equal(t, tt.severity, f.Severity())
			assert.Equal(t, tt.dismissible, f.Dismissible())
		})
	}
}

func TestFailure_UserMessage(t *testing.T) {
	f := &Failure{Kind: KindReconciliation, GatewayTxID: "G1"}
	assert.Contains(t, f.UserMessage(), "Do not pay again")
	assert.Contains(t, f.UserMessage(), "transaction id G1")

	f.GatewayTxID = ""
	assert.NotContains(t, f.UserMessage(), "transaction id")
	assert.Contains(t, f.UserMessage(), "payment reference")

	assert.Equal(t, "Payment failed: Solde insuffisant", (&Failure{Kind: KindPayment, Message: "Solde insuffisant"}).UserMessage())
}
