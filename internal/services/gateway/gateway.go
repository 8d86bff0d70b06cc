package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"payflow/internal/services/widget"
	"payflow/internal/status"
	"payflow/models"

	"github.com/shopspring/decimal"
)

// WidgetConfig is the object handed to the SDK's openWidget entry point.
type WidgetConfig struct {
	Key         string          `json:"key"`
	Sandbox     bool            `json:"sandbox"`
	Amount      decimal.Decimal `json:"amount"`
	Phone       string          `json:"phone"`
	Description string          `json:"description"`
	Callback    string          `json:"callback"`
	Position    string          `json:"position"`
	Theme       string          `json:"theme"`
}

type (
	SuccessListener func(models.Success)
	FailureListener func(models.Failure)

	// Shapes of the entry points an SDK installs into the page.
	OpenFunc               func(ctx context.Context, cfg WidgetConfig) error
	AddSuccessListenerFunc func(SuccessListener)
	AddFailedListenerFunc  func(FailureListener)
)

// SDK is what a payment widget implementation provides. The SDK keeps a single
// global success listener and a single global failure listener; adding one
// replaces the previous.
//
//go:generate mockgen -destination=mocks/mock_sdk.go -package=mocks -source=gateway.go SDK
type SDK interface {
	OpenWidget(ctx context.Context, cfg WidgetConfig) error
	AddSuccessListener(l SuccessListener)
	AddFailedListener(l FailureListener)
}

// Install exposes sdk's entry points in the page scope.
func Install(page *widget.Page, sdk SDK) {
	page.Set(widget.OpenWidget, OpenFunc(sdk.OpenWidget))
	page.Set(widget.AddSuccessListener, AddSuccessListenerFunc(sdk.AddSuccessListener))
	page.Set(widget.AddFailedListener, AddFailedListenerFunc(sdk.AddFailedListener))
}

// Defaults are the fixed platform settings every widget opens with.
type Defaults struct {
	PublicKey string `json:"public_key" yaml:"public_key"`
	Sandbox   bool   `json:"sandbox" yaml:"sandbox"`
	Position  string `json:"position" yaml:"position"`
	Theme     string `json:"theme" yaml:"theme"`
	Callback  string `json:"callback" yaml:"callback"`
}

// Config holds the per-transaction fields a caller may set.
type Config struct {
	Amount      decimal.Decimal
	Phone       string
	Description string
	Callback    string
	Position    string
	Theme       string
}

type Loader interface {
	Ready() bool
	EnsureLoaded(ctx context.Context) error
	Page() *widget.Page
}

// Adapter opens the widget and routes its outcomes. It does not track which
// transaction an outcome belongs to; callers bind that themselves.
type Adapter struct {
	loader   Loader
	defaults Defaults
}

func NewAdapter(loader Loader, defaults Defaults) *Adapter {
	if defaults.Position == "" {
		defaults.Position = "center"
	}
	if defaults.Theme == "" {
		defaults.Theme = "#0095ff"
	}
	return &Adapter{loader: loader, defaults: defaults}
}

func (a *Adapter) Ready() bool {
	return a.loader.Ready()
}

func (a *Adapter) ensure(ctx context.Context) error {
	if a.loader.Ready() {
		return nil
	}
	return a.loader.EnsureLoaded(ctx)
}

// Open merges cfg over the defaults and invokes the SDK's openWidget.
func (a *Adapter) Open(ctx context.Context, cfg Config) error {
	if err := a.ensure(ctx); err != nil {
		return err
	}

	v, ok := a.loader.Page().Lookup(widget.OpenWidget)
	if !ok {
		return fmt.Errorf("%w: %s missing", status.ErrGatewayUnavailable, widget.OpenWidget)
	}
	open, ok := v.(OpenFunc)
	if !ok || open == nil {
		return fmt.Errorf("%w: %s has type %T", status.ErrGatewayUnavailable, widget.OpenWidget, v)
	}

	wc := a.merge(cfg)
	if err := open(ctx, wc); err != nil {
		return fmt.Errorf("%w: %v", status.ErrGatewayUnavailable, err)
	}

	slog.Info("gateway: widget opened", "amount", wc.Amount.String(), "phone", wc.Phone, "sandbox", wc.Sandbox)
	return nil
}

func (a *Adapter) merge(cfg Config) WidgetConfig {
	wc := WidgetConfig{
		Key:         a.defaults.PublicKey,
		Sandbox:     a.defaults.Sandbox,
		Amount:      cfg.Amount,
		Phone:       cfg.Phone,
		Description: cfg.Description,
		Callback:    a.defaults.Callback,
		Position:    a.defaults.Position,
		Theme:       a.defaults.Theme,
	}
	if cfg.Callback != "" {
		wc.Callback = cfg.Callback
	}
	if cfg.Position != "" {
		wc.Position = cfg.Position
	}
	if cfg.Theme != "" {
		wc.Theme = cfg.Theme
	}
	return wc
}

// RegisterOutcomeListeners replaces the SDK's global listener pair. It must be
// called before every Open so a previous transaction's handlers never see the
// next one's outcome.
func (a *Adapter) RegisterOutcomeListeners(ctx context.Context, onSuccess SuccessListener, onFailure FailureListener) error {
	if err := a.ensure(ctx); err != nil {
		return err
	}

	page := a.loader.Page()

	v, _ := page.Lookup(widget.AddSuccessListener)
	addSuccess, ok := v.(AddSuccessListenerFunc)
	if !ok || addSuccess == nil {
		return fmt.Errorf("%w: %s missing", status.ErrGatewayUnavailable, widget.AddSuccessListener)
	}

	v, _ = page.Lookup(widget.AddFailedListener)
	addFailed, ok := v.(AddFailedListenerFunc)
	if !ok || addFailed == nil {
		return fmt.Errorf("%w: %s missing", status.ErrGatewayUnavailable, widget.AddFailedListener)
	}

	addSuccess(onSuccess)
	addFailed(onFailure)
	return nil
}
