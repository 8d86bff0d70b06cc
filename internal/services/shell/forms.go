package shell

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

var phonePattern = regexp.MustCompile(`^[0-9]{8}$`)

// NormalizePhone strips spaces, dashes and the +229 / 00229 country prefix.
func NormalizePhone(s string) string {
	s = strings.NewReplacer(" ", "", "-", "", ".", "").Replace(strings.TrimSpace(s))
	for _, prefix := range []string{"+229", "00229"} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimPrefix(s, prefix)
		}
	}
	return s
}

func positiveAmount(value any) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal amount")
	}
	if !d.IsPositive() {
		return errors.New("must be greater than zero")
	}
	if d.Exponent() < -2 {
		return errors.New("must have at most two decimals")
	}
	return nil
}

var phoneRules = []validation.Rule{
	validation.Required,
	validation.Match(phonePattern).Error("must be an 8-digit mobile number"),
}

// ContributionForm pays one or more tontine cotisations.
type ContributionForm struct {
	TontineID   string          `json:"tontine_id"`
	MemberID    string          `json:"member_id"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
	Quantity    int             `json:"quantity"`
	PhoneNumber string          `json:"phone"`
}

func (f *ContributionForm) Amount() decimal.Decimal {
	return f.UnitAmount.Mul(decimal.NewFromInt(int64(f.Quantity)))
}

func (f *ContributionForm) Phone() string { return f.PhoneNumber }

func (f *ContributionForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.TontineID, validation.Required),
		validation.Field(&f.MemberID, validation.Required),
		validation.Field(&f.UnitAmount, validation.By(positiveAmount)),
		validation.Field(&f.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&f.PhoneNumber, phoneRules...),
	)
}

func (f *ContributionForm) normalize() {
	f.PhoneNumber = NormalizePhone(f.PhoneNumber)
}

func (f *ContributionForm) records() map[string]any { return nil }

// DepositForm credits a savings account.
type DepositForm struct {
	AccountID   string          `json:"account_id"`
	Total       decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone"`
	Note        string          `json:"note,omitempty"`
}

func (f *DepositForm) Amount() decimal.Decimal { return f.Total }
func (f *DepositForm) Phone() string           { return f.PhoneNumber }

func (f *DepositForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.AccountID, validation.Required),
		validation.Field(&f.Total, validation.By(positiveAmount)),
		validation.Field(&f.PhoneNumber, phoneRules...),
		validation.Field(&f.Note, validation.Length(0, 255)),
	)
}

func (f *DepositForm) normalize() {
	f.PhoneNumber = NormalizePhone(f.PhoneNumber)
	f.Note = strings.TrimSpace(f.Note)
}

func (f *DepositForm) records() map[string]any { return nil }

// RepaymentForm pays one loan installment.
type RepaymentForm struct {
	LoanID      string          `json:"loan_id"`
	EcheanceID  string          `json:"echeance_id"`
	Total       decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone"`
}

func (f *RepaymentForm) Amount() decimal.Decimal { return f.Total }
func (f *RepaymentForm) Phone() string           { return f.PhoneNumber }

func (f *RepaymentForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.LoanID, validation.Required),
		validation.Field(&f.EcheanceID, validation.Required),
		validation.Field(&f.Total, validation.By(positiveAmount)),
		validation.Field(&f.PhoneNumber, phoneRules...),
	)
}

func (f *RepaymentForm) normalize() {
	f.PhoneNumber = NormalizePhone(f.PhoneNumber)
}

// The installment id is known before compose; the backend may still echo it.
func (f *RepaymentForm) records() map[string]any {
	return map[string]any{"echeance_id": f.EcheanceID}
}
