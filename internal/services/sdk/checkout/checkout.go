package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"payflow/internal/services/gateway"
	"payflow/internal/services/widget"

	pubnub "github.com/pubnub/go/v7"
)

type Config struct {
	Client ClientConfig `yaml:"client"`

	PNPublishKey string `json:"pn_pubkey" yaml:"pn_pubkey"`
	PNSubKey     string `json:"pn_subkey" yaml:"pn_subkey"`
	PNSecretKey  string `json:"pn_secret" yaml:"pn_secret"`
	PNUUID       string `json:"pn_uuid" yaml:"pn_uuid"`
	PNCipherKey  string `json:"pn_cipherKey" yaml:"pn_cipherkey"`
}

// Provider is the process-wide side of the checkout SDK: one authenticated API
// client and one PubNub subscription. Every page bootstrapped from it gets its
// own Widget with its own listener pair.
type Provider struct {
	client *Client

	pn       *pubnub.PubNub
	listener *pubnub.Listener

	// subscribe, unsubscribe and publish default to pn.
	subscribe   func(channel string)
	unsubscribe func(channel string)
	publish     func(ctx context.Context, channel string, msg any) error

	mu     sync.Mutex
	routes map[string]*Widget
	pages  map[*widget.Page]*Widget

	cancel context.CancelFunc
}

// New authenticates with the provider and starts listening on PubNub.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	client := newClient(&cfg.Client, nil)

	token, err := client.connect(ctx)
	if err != nil {
		return nil, err
	}
	client.setAccessToken(token)

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PNUUID))
	pnCfg.PublishKey = cfg.PNPublishKey
	pnCfg.SubscribeKey = cfg.PNSubKey
	pnCfg.SecretKey = cfg.PNSecretKey
	pnCfg.CipherKey = cfg.PNCipherKey

	p := newProvider(client)
	p.pn = pubnub.NewPubNub(pnCfg)
	p.listener = pubnub.NewListener()
	p.pn.AddListener(p.listener)

	p.subscribe = func(channel string) {
		p.pn.Subscribe().Channels([]string{channel}).Execute()
	}
	p.unsubscribe = func(channel string) {
		p.pn.Unsubscribe().Channels([]string{channel}).Execute()
	}
	p.publish = func(ctx context.Context, channel string, msg any) error {
		_, _, err := p.pn.Publish().Channel(channel).Message(msg).QueryParam(nil).Execute()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	go client.notifyAccessTokenExpired(runCtx)
	go p.processSubscription(runCtx)

	return p, nil
}

func newProvider(client *Client) *Provider {
	return &Provider{
		client:      client,
		subscribe:   func(string) {},
		unsubscribe: func(string) {},
		publish: func(context.Context, string, any) error {
			return fmt.Errorf("checkout: publish is not configured")
		},
		routes: make(map[string]*Widget),
		pages:  make(map[*widget.Page]*Widget),
		cancel: func() {},
	}
}

func (p *Provider) Name() string { return "checkout" }

// Bootstrap installs a fresh Widget into each page it runs against.
func (p *Provider) Bootstrap() widget.Bootstrap {
	return func(_ context.Context, page *widget.Page) error {
		w := &Widget{provider: p}
		p.mu.Lock()
		p.pages[page] = w
		p.mu.Unlock()

		gateway.Install(page, w)
		return nil
	}
}

// Simulate publishes o on the channel of the page's open widget, exactly as
// the provider would.
func (p *Provider) Simulate(ctx context.Context, page *widget.Page, o gateway.Outcome) error {
	p.mu.Lock()
	w, ok := p.pages[page]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("checkout: no widget bootstrapped for this page")
	}

	channel := w.currentChannel()
	if channel == "" {
		return fmt.Errorf("checkout: widget is not open")
	}
	return p.publish(ctx, channel, o)
}

// Release forgets the widget of a page that is going away.
func (p *Provider) Release(page *widget.Page) {
	p.mu.Lock()
	w, ok := p.pages[page]
	delete(p.pages, page)
	var channels []string
	if ok {
		for ch, rw := range p.routes {
			if rw == w {
				channels = append(channels, ch)
				delete(p.routes, ch)
			}
		}
	}
	p.mu.Unlock()

	for _, ch := range channels {
		p.unsubscribe(ch)
	}
}

func (p *Provider) Close() {
	p.cancel()
	if p.pn != nil {
		p.pn.UnsubscribeAll()
		p.pn.Destroy()
	}
}

// route points channel at w and drops the channel of w's previous opening, so
// an outcome for an abandoned opening never reaches the listeners of the next.
func (p *Provider) route(prev, channel string, w *Widget) {
	p.mu.Lock()
	stale := prev != "" && prev != channel && p.routes[prev] == w
	if stale {
		delete(p.routes, prev)
	}
	p.routes[channel] = w
	p.mu.Unlock()

	if stale {
		p.unsubscribe(prev)
	}
	p.subscribe(channel)
}

func (p *Provider) processSubscription(ctx context.Context) {
	for {
		select {
		case st := <-p.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("checkout: connected to pubnub")
			case pubnub.PNReconnectedCategory:
				slog.Info("checkout: reconnected to pubnub")
			case pubnub.PNDisconnectedCategory:
				slog.Warn("checkout: disconnected from pubnub")
			case pubnub.PNAccessDeniedCategory, pubnub.PNBadRequestCategory:
				slog.Error("checkout: pubnub rejected subscription", "category", st.Category)
			case pubnub.PNReconnectionAttemptsExhausted:
				slog.Error("checkout: pubnub reconnection attempts exhausted")
			}

		case msg := <-p.listener.Message:
			p.handleMessage(msg.Channel, msg.Message)

		case <-ctx.Done():
			slog.Info("checkout: subscription closed")
			return
		}
	}
}

// handleMessage routes one outcome to the widget that opened the channel. A
// widget opening yields one outcome, so the channel is dropped afterwards.
func (p *Provider) handleMessage(channel string, payload any) {
	p.mu.Lock()
	w, ok := p.routes[channel]
	if ok {
		delete(p.routes, channel)
	}
	p.mu.Unlock()

	if !ok {
		slog.Warn("checkout: message on unknown channel", "channel", channel)
		return
	}
	p.unsubscribe(channel)

	if cur := w.currentChannel(); cur != channel {
		slog.Warn("checkout: outcome for a superseded widget opening", "channel", channel, "current", cur)
		return
	}

	o, err := gateway.DecodeOutcome(payload)
	if err != nil {
		slog.Error("checkout: bad outcome message", "channel", channel, "error", err)
		return
	}

	// listeners reconcile over the network; keep the pubnub loop free
	go func() {
		if !w.Dispatch(o) {
			slog.Warn("checkout: outcome with no listener registered", "channel", channel, "event", o.Event)
		}
	}()
}

// Widget is one page's view of the SDK. It keeps a single global success
// listener and a single global failure listener.
type Widget struct {
	gateway.Listeners

	provider *Provider

	mu      sync.Mutex
	channel string
}

func (w *Widget) OpenWidget(ctx context.Context, wc gateway.WidgetConfig) error {
	sess, err := w.provider.client.openSession(ctx, wc)
	if err != nil {
		return err
	}

	channel := sess.Channel
	if channel == "" {
		channel = "checkout_" + sess.ID
	}

	w.mu.Lock()
	prev := w.channel
	w.channel = channel
	w.mu.Unlock()

	w.provider.route(prev, channel, w)
	slog.Info("checkout: widget session opened", "session", sess.ID, "channel", channel)
	return nil
}

func (w *Widget) currentChannel() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.channel
}

var _ gateway.SDK = (*Widget)(nil)

// HTTPClient replaces the provider API client's transport. Used in tests.
func (p *Provider) HTTPClient(hc *http.Client) {
	p.client.hc = hc
}
