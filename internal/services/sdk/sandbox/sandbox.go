package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"payflow/internal/services/gateway"
	"payflow/internal/services/widget"
	"payflow/utils"
)

// Provider is an in-process SDK. Widgets open instantly and outcomes only
// arrive through Simulate.
type Provider struct {
	mu    sync.Mutex
	pages map[*widget.Page]*Widget
}

func New() *Provider {
	return &Provider{pages: make(map[*widget.Page]*Widget)}
}

func (p *Provider) Name() string { return "sandbox" }

func (p *Provider) Bootstrap() widget.Bootstrap {
	return func(_ context.Context, page *widget.Page) error {
		w := &Widget{}
		p.mu.Lock()
		p.pages[page] = w
		p.mu.Unlock()

		gateway.Install(page, w)
		return nil
	}
}

// Simulate delivers o to the page's listeners before returning. A success with
// no transaction id or amount takes them from the open widget.
func (p *Provider) Simulate(_ context.Context, page *widget.Page, o gateway.Outcome) error {
	p.mu.Lock()
	w, ok := p.pages[page]
	p.mu.Unlock()
	if !ok {
		return errors.New("sandbox: no widget bootstrapped for this page")
	}

	last, ok := w.Last()
	if !ok {
		return errors.New("sandbox: widget is not open")
	}

	if o.Event == gateway.EventSuccess {
		if o.TransactionID == "" {
			code, err := utils.GenerateCode(6)
			if err != nil {
				return fmt.Errorf("sandbox: utils.GenerateCode: %w", err)
			}
			o.TransactionID = "SBX-" + code
		}
		if o.Amount.IsZero() {
			o.Amount = last.Amount
		}
		if o.Phone == "" {
			o.Phone = last.Phone
		}
		if o.Status == "" {
			o.Status = "SUCCESS"
		}
	}

	if !w.Dispatch(o) {
		return fmt.Errorf("sandbox: no %s listener registered", o.Event)
	}
	return nil
}

func (p *Provider) Release(page *widget.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pages, page)
}

func (p *Provider) Close() {}

// Widget records every opening.
type Widget struct {
	gateway.Listeners

	mu     sync.Mutex
	opened []gateway.WidgetConfig
}

func (w *Widget) OpenWidget(_ context.Context, wc gateway.WidgetConfig) error {
	if !wc.Sandbox {
		return errors.New("sandbox: widget opened without sandbox flag")
	}

	w.mu.Lock()
	w.opened = append(w.opened, wc)
	w.mu.Unlock()

	slog.Info("sandbox: widget opened", "amount", wc.Amount.String(), "phone", wc.Phone)
	return nil
}

func (w *Widget) Opened() []gateway.WidgetConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]gateway.WidgetConfig(nil), w.opened...)
}

func (w *Widget) Last() (gateway.WidgetConfig, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.opened) == 0 {
		return gateway.WidgetConfig{}, false
	}
	return w.opened[len(w.opened)-1], true
}

var _ gateway.SDK = (*Widget)(nil)
