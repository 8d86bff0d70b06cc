package shell

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"payflow/internal/services/backend"
	"payflow/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Compose(ctx context.Context, path string, payload any) (*backend.ComposeReply, error) {
	args := m.Called(ctx, path, payload)
	if r := args.Get(0); r != nil {
		return r.(*backend.ComposeReply), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Reconcile(ctx context.Context, record any) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

var testPaths = Paths{
	Contribution: "/api/tontines/cotisations/initiate",
	Deposit:      "/api/epargne/depots/initiate",
	Repayment:    "/api/credits/remboursements/initiate",
}

func newShell(kind Kind, b Backend) *Shell {
	s := New(Products(testPaths)[kind], b, "user-7")
	s.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func rawFields(t *testing.T, js string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(js), &m))
	return m
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"97000000":          "97000000",
		"+229 97 00 00 00":  "97000000",
		"00229-97-00-00-00": "97000000",
		" 97.00.00.00 ":     "97000000",
		"+33612345678":      "+33612345678",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestDecode_NormalizesPhone(t *testing.T) {
	s := newShell(KindContribution, &MockBackend{})

	f, err := s.Decode([]byte(`{"tontine_id":"TN1","member_id":"M1","unit_amount":2500,"quantity":2,"phone":"+229 97000000"}`))
	require.NoError(t, err)

	assert.Equal(t, "97000000", f.Phone())
	assert.True(t, decimal.NewFromInt(5000).Equal(f.Amount()))
	assert.NoError(t, s.Validate(f))
}

func TestDecode_BadJSON(t *testing.T) {
	s := newShell(KindDeposit, &MockBackend{})
	_, err := s.Decode([]byte(`{"amount":"lots"`))
	assert.ErrorContains(t, err, "deposit: decode form")
}

func TestValidate_Contribution(t *testing.T) {
	s := newShell(KindContribution, &MockBackend{})

	err := s.Validate(&ContributionForm{UnitAmount: decimal.NewFromInt(-1), PhoneNumber: "1234"})
	require.Error(t, err)

	var errs validation.Errors
	require.True(t, errors.As(err, &errs))
	assert.Contains(t, errs, "tontine_id")
	assert.Contains(t, errs, "member_id")
	assert.Contains(t, errs, "unit_amount")
	assert.Contains(t, errs, "quantity")
	assert.Contains(t, errs, "phone")
}

func TestValidate_Deposit(t *testing.T) {
	s := newShell(KindDeposit, &MockBackend{})

	ok := &DepositForm{AccountID: "A1", Total: decimal.RequireFromString("1500.50"), PhoneNumber: "97000000"}
	assert.NoError(t, s.Validate(ok))

	tooPrecise := *ok
	tooPrecise.Total = decimal.RequireFromString("10.555")
	err := s.Validate(&tooPrecise)
	assert.ErrorContains(t, err, "two decimals")
}

func TestValidate_Repayment(t *testing.T) {
	s := newShell(KindRepayment, &MockBackend{})

	err := s.Validate(&RepaymentForm{LoanID: "L1", Total: decimal.NewFromInt(10000), PhoneNumber: "97000000"})
	var errs validation.Errors
	require.True(t, errors.As(err, &errs))
	assert.Len(t, errs, 1)
	assert.Contains(t, errs, "echeance_id")
}

func TestValidate_RejectsForeignPayload(t *testing.T) {
	s := newShell(KindDeposit, &MockBackend{})
	err := s.Validate(foreignPayload{})
	assert.ErrorContains(t, err, "unexpected payload")
}

type foreignPayload struct{}

func (foreignPayload) Amount() decimal.Decimal { return decimal.NewFromInt(1) }
func (foreignPayload) Phone() string           { return "97000000" }

func TestCompose_Contribution(t *testing.T) {
	b := &MockBackend{}
	s := newShell(KindContribution, b)
	form := &ContributionForm{TontineID: "TN1", MemberID: "M1", UnitAmount: decimal.NewFromInt(2500), Quantity: 2, PhoneNumber: "97000000"}

	b.On("Compose", mock.Anything, testPaths.Contribution, mock.MatchedBy(func(body map[string]any) bool {
		return body["montant"] == json.Number("5000") &&
			body["phone"] == "97000000" &&
			body["user_id"] == "user-7" &&
			body["tontine_id"] == "TN1"
	})).Return(&backend.ComposeReply{
		ID:        "T1",
		Reference: "R1",
		Montant:   decimal.NewFromInt(5000),
		Fields:    rawFields(t, `{"id":"T1","reference":"R1","montant":5000,"cotisation_ids":["C1","C2"]}`),
	}, nil)

	tx, err := s.Compose(context.Background(), form)
	require.NoError(t, err)

	assert.Equal(t, "T1", tx.ID)
	assert.Equal(t, "R1", tx.Reference)
	assert.True(t, decimal.NewFromInt(5000).Equal(tx.Amount))
	assert.Equal(t, models.TypeContribution, tx.Type)
	assert.Equal(t, "user-7", tx.ActorID)
	assert.Equal(t, []any{"C1", "C2"}, tx.Records["cotisation_ids"])
	assert.Same(t, form, tx.Form)
	b.AssertExpectations(t)
}

func TestCompose_RepaymentKeepsFormEcheanceWhenNotEchoed(t *testing.T) {
	b := &MockBackend{}
	s := newShell(KindRepayment, b)
	form := &RepaymentForm{LoanID: "L1", EcheanceID: "E9", Total: decimal.NewFromInt(10000), PhoneNumber: "97000000"}

	b.On("Compose", mock.Anything, testPaths.Repayment, mock.Anything).Return(&backend.ComposeReply{
		ID:      "T2",
		Montant: decimal.NewFromInt(10000),
		Fields:  rawFields(t, `{"id":"T2","montant":10000,"user_id":"agent-3"}`),
	}, nil)

	tx, err := s.Compose(context.Background(), form)
	require.NoError(t, err)

	assert.Equal(t, "E9", tx.Records["echeance_id"])
	assert.Equal(t, "T2", tx.Reference)
	assert.Equal(t, "agent-3", tx.ActorID)
}

func TestCompose_BackendError(t *testing.T) {
	b := &MockBackend{}
	s := newShell(KindDeposit, b)

	b.On("Compose", mock.Anything, testPaths.Deposit, mock.Anything).
		Return(nil, &backend.HTTPError{Op: "compose", StatusCode: 400, Message: "compte inactif"})

	_, err := s.Compose(context.Background(), &DepositForm{AccountID: "A1", Total: decimal.NewFromInt(100), PhoneNumber: "97000000"})

	var he *backend.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, 400, he.StatusCode)
	assert.ErrorContains(t, err, "deposit: compose")
}

func TestReconcile_UsesTransactionAmount(t *testing.T) {
	b := &MockBackend{}
	s := newShell(KindDeposit, b)

	tx := models.PendingTransaction{
		ID:        "T1",
		Reference: "R1",
		Amount:    decimal.NewFromInt(5000),
		Type:      models.TypeDeposit,
		ActorID:   "user-7",
		Records:   map[string]any{"deposit_ids": []any{"D1"}},
	}

	var sent models.ReconciliationRecord
	b.On("Reconcile", mock.Anything, mock.AnythingOfType("models.ReconciliationRecord")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(models.ReconciliationRecord) }).
		Return(nil)

	err := s.Reconcile(context.Background(), models.Success{TransactionID: "G1", Amount: decimal.NewFromInt(4999)}, tx)
	require.NoError(t, err)

	assert.Equal(t, "G1", sent.TransactionID)
	assert.Equal(t, json.Number("5000"), sent.Amount)
	assert.Equal(t, "2025-03-01T09:00:00.000Z", sent.Timestamp)
	assert.Equal(t, "R1", sent.Data.Reference)
	assert.Equal(t, []any{"D1"}, sent.Data.Records["deposit_ids"])
}

func TestReconcile_ErrorIsWrapped(t *testing.T) {
	b := &MockBackend{}
	s := newShell(KindContribution, b)
	b.On("Reconcile", mock.Anything, mock.Anything).Return(errors.New("reconcile: resp.StatusCode: 500"))

	err := s.Reconcile(context.Background(), models.Success{TransactionID: "G1"}, models.PendingTransaction{ID: "T1"})
	assert.EqualError(t, err, "contribution: reconcile: resp.StatusCode: 500")
}

func TestDescribe(t *testing.T) {
	s := newShell(KindContribution, &MockBackend{})
	assert.Equal(t, "Cotisation tontine R1", s.Describe(models.PendingTransaction{Reference: "R1"}))
}

func TestNamedConstructors(t *testing.T) {
	b := &MockBackend{}

	tests := []struct {
		shell *Shell
		kind  Kind
		typ   string
		path  string
	}{
		{NewContribution("/c", b, "u"), KindContribution, models.TypeContribution, "/c"},
		{NewDeposit("/d", b, "u"), KindDeposit, models.TypeDeposit, "/d"},
		{NewRepayment("/r", b, "u"), KindRepayment, models.TypeRepayment, "/r"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.shell.Kind())
			assert.Equal(t, tt.typ, tt.shell.Type())
			assert.Equal(t, tt.path, tt.shell.product.Path)
		})
	}
}
