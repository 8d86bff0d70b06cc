package sdk

import (
	"context"
	"fmt"

	"payflow/config"
	"payflow/internal/services/gateway"
	"payflow/internal/services/sdk/checkout"
	"payflow/internal/services/sdk/sandbox"
	"payflow/internal/services/widget"
)

const (
	ProviderCheckout = "checkout"
	ProviderSandbox  = "sandbox"
)

// Provider is a payment widget SDK shared by every session of the process.
// Each page bootstrapped from it gets its own widget and listener pair.
type Provider interface {
	Name() string
	Bootstrap() widget.Bootstrap

	// Simulate delivers o to the widget open in page as the provider would.
	Simulate(ctx context.Context, page *widget.Page, o gateway.Outcome) error

	// Release drops whatever the provider holds for page.
	Release(page *widget.Page)
	Close()
}

// New creates the provider selected by cfg.Gateway.Provider.
func New(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.Gateway.Provider {
	case ProviderCheckout:
		return checkout.New(ctx, &checkout.Config{
			Client: checkout.ClientConfig{
				BaseURL:      cfg.Gateway.APIURL,
				ClientID:     cfg.Gateway.ClientID,
				ClientSecret: cfg.Gateway.ClientSecret,
				HMACKey:      cfg.Gateway.SigningKey,
			},
			PNPublishKey: cfg.PubNubPublishKey,
			PNSubKey:     cfg.PubNubSubscribeKey,
			PNSecretKey:  cfg.PubNubSecretKey,
			PNUUID:       cfg.PubNubUserID,
		})

	case ProviderSandbox:
		return sandbox.New(), nil

	default:
		return nil, fmt.Errorf("unsupported gateway provider: %s", cfg.Gateway.Provider)
	}
}

// Supported lists the provider names New accepts.
func Supported() []string {
	return []string{ProviderCheckout, ProviderSandbox}
}

var (
	_ Provider = (*checkout.Provider)(nil)
	_ Provider = (*sandbox.Provider)(nil)
)
