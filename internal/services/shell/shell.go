package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payflow/internal/services/backend"
	"payflow/internal/services/orchestrator"
	"payflow/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Kind names a form in URLs.
type Kind string

const (
	KindContribution Kind = "contribution"
	KindDeposit      Kind = "deposit"
	KindRepayment    Kind = "repayment"
)

type Backend interface {
	Compose(ctx context.Context, path string, payload any) (*backend.ComposeReply, error)
	Reconcile(ctx context.Context, record any) error
}

// Form is a decoded payment form.
type Form interface {
	orchestrator.Payload
	validation.Validatable

	normalize()
	// records are domain ids known before compose.
	records() map[string]any
}

// Product describes what a shell pays for.
type Product struct {
	Kind  Kind
	Type  string
	Label string
	Path  string

	// IDFields are copied from the compose reply into the transaction records.
	IDFields []string

	newForm func() Form
}

// Paths are the compose endpoints per product.
type Paths struct {
	Contribution string
	Deposit      string
	Repayment    string
}

func Products(p Paths) map[Kind]Product {
	return map[Kind]Product{
		KindContribution: {
			Kind:     KindContribution,
			Type:     models.TypeContribution,
			Label:    "Cotisation tontine",
			Path:     p.Contribution,
			IDFields: []string{"cotisation_ids"},
			newForm:  func() Form { return &ContributionForm{} },
		},
		KindDeposit: {
			Kind:     KindDeposit,
			Type:     models.TypeDeposit,
			Label:    "Dépôt épargne",
			Path:     p.Deposit,
			IDFields: []string{"deposit_ids"},
			newForm:  func() Form { return &DepositForm{} },
		},
		KindRepayment: {
			Kind:     KindRepayment,
			Type:     models.TypeRepayment,
			Label:    "Remboursement échéance",
			Path:     p.Repayment,
			IDFields: []string{"echeance_id"},
			newForm:  func() Form { return &RepaymentForm{} },
		},
	}
}

// Shell is the harness every product form runs through.
type Shell struct {
	product Product
	backend Backend
	actorID string
	now     func() time.Time
}

func New(product Product, b Backend, actorID string) *Shell {
	return &Shell{
		product: product,
		backend: b,
		actorID: actorID,
		now:     time.Now,
	}
}

func NewContribution(path string, b Backend, actorID string) *Shell {
	return New(Products(Paths{Contribution: path})[KindContribution], b, actorID)
}

func NewDeposit(path string, b Backend, actorID string) *Shell {
	return New(Products(Paths{Deposit: path})[KindDeposit], b, actorID)
}

func NewRepayment(path string, b Backend, actorID string) *Shell {
	return New(Products(Paths{Repayment: path})[KindRepayment], b, actorID)
}

func (s *Shell) Kind() Kind { return s.product.Kind }

func (s *Shell) Type() string { return s.product.Type }

// Decode parses a JSON form body and normalizes it. It does not validate.
func (s *Shell) Decode(raw []byte) (Form, error) {
	f := s.product.newForm()
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("%s: decode form: %w", s.product.Kind, err)
	}
	f.normalize()
	return f, nil
}

func (s *Shell) Validate(p orchestrator.Payload) error {
	f, ok := p.(Form)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", s.product.Kind, p)
	}
	return f.Validate()
}

func (s *Shell) Compose(ctx context.Context, p orchestrator.Payload) (models.PendingTransaction, error) {
	body, err := composeBody(p, s.actorID)
	if err != nil {
		return models.PendingTransaction{}, fmt.Errorf("%s: %w", s.product.Kind, err)
	}

	reply, err := s.backend.Compose(ctx, s.product.Path, body)
	if err != nil {
		return models.PendingTransaction{}, fmt.Errorf("%s: %w", s.product.Kind, err)
	}

	tx := models.PendingTransaction{
		ID:        reply.ID,
		Reference: reply.Reference,
		Amount:    reply.Montant,
		Phone:     p.Phone(),
		Type:      s.product.Type,
		ActorID:   s.actorID,
		Form:      p,
		Records:   s.records(p, reply),
		CreatedAt: s.now().UTC(),
	}
	if raw, ok := reply.Fields["user_id"]; ok {
		var actor string
		if json.Unmarshal(raw, &actor) == nil && actor != "" {
			tx.ActorID = actor
		}
	}
	if tx.Reference == "" {
		tx.Reference = tx.ID
	}
	return tx, nil
}

func (s *Shell) records(p orchestrator.Payload, reply *backend.ComposeReply) map[string]any {
	out := map[string]any{}
	if f, ok := p.(Form); ok {
		for k, v := range f.records() {
			out[k] = v
		}
	}
	for _, name := range s.product.IDFields {
		raw, ok := reply.Fields[name]
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err == nil && v != nil {
			out[name] = v
		}
	}
	return out
}

func (s *Shell) Reconcile(ctx context.Context, outcome models.Success, tx models.PendingTransaction) error {
	record := models.NewReconciliationRecord(tx, outcome, s.now())
	if err := s.backend.Reconcile(ctx, record); err != nil {
		return fmt.Errorf("%s: %w", s.product.Kind, err)
	}
	return nil
}

func (s *Shell) Describe(tx models.PendingTransaction) string {
	return fmt.Sprintf("%s %s", s.product.Label, tx.Reference)
}

// composeBody is the form as JSON plus the computed amount and the actor.
func composeBody(p orchestrator.Payload, actorID string) (map[string]any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	body := map[string]any{}
	if err := json.Unmarshal(b, &body); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	body["montant"] = json.Number(p.Amount().String())
	body["phone"] = p.Phone()
	if actorID != "" {
		body["user_id"] = actorID
	}
	return body, nil
}
