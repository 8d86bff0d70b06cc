package widget

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"payflow/internal/status"
	"payflow/monitoring"

	"golang.org/x/sync/singleflight"
)

// Bootstrap runs the fetched SDK script against the page. It installs the
// entry points, possibly asynchronously.
type Bootstrap func(ctx context.Context, page *Page) error

type Config struct {
	ScriptURL string `json:"script_url" yaml:"script_url"`

	// Integrity is an optional subresource integrity value such as "sha384-...".
	Integrity string `json:"integrity" yaml:"integrity"`

	ReadyTimeout time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

type Loader struct {
	cfg  Config
	page *Page
	boot Bootstrap

	// hc fetches the script.
	hc *http.Client

	group singleflight.Group
	ready atomic.Bool
}

func NewLoader(cfg Config, page *Page, boot Bootstrap, hc *http.Client) *Loader {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Loader{cfg: cfg, page: page, boot: boot, hc: hc}
}

// Ready reports whether the SDK entry points are known to be present.
func (l *Loader) Ready() bool {
	return l.ready.Load()
}

func (l *Loader) Page() *Page {
	return l.page
}

// EnsureLoaded resolves once every required entry point is installed. Callers
// arriving while a load is in flight share it. A failed load leaves no marker
// behind, so calling again retries.
func (l *Loader) EnsureLoaded(ctx context.Context) error {
	if l.page.has(RequiredEntryPoints) {
		l.ready.Store(true)
		return nil
	}

	ch := l.group.DoChan(l.cfg.ScriptURL, func() (any, error) {
		// the load outlives any single caller so that others sharing it are not cut short
		return nil, l.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", status.ErrLoad, ctx.Err())
	}
}

func (l *Loader) load(ctx context.Context) error {
	src := l.cfg.ScriptURL

	if l.page.insertScript(src) {
		if err := l.inject(ctx); err != nil {
			l.page.removeScript(src)
			monitoring.TrackWidgetLoad("error")
			slog.Error("widget: script load failed", "src", src, "error", err)
			return fmt.Errorf("%w: %v", status.ErrLoad, err)
		}
	}

	if err := l.waitReady(ctx); err != nil {
		l.page.removeScript(src)
		monitoring.TrackWidgetLoad("timeout")
		slog.Error("widget: sdk not ready", "src", src, "timeout", l.cfg.ReadyTimeout)
		return err
	}

	l.ready.Store(true)
	monitoring.TrackWidgetLoad("ok")
	slog.Info("widget: sdk loaded", "src", src)
	return nil
}

func (l *Loader) inject(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.ScriptURL, nil)
	if err != nil {
		return fmt.Errorf("inject: http.NewRequest: %w", err)
	}

	resp, err := l.hc.Do(req)
	if err != nil {
		return fmt.Errorf("inject: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("inject: resp.StatusCode: %d", resp.StatusCode)
	}

	script, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("inject: io.ReadAll: %w", err)
	}

	if l.cfg.Integrity != "" {
		if err := verifyIntegrity(l.cfg.Integrity, script); err != nil {
			return err
		}
	}

	if l.boot == nil {
		return nil
	}
	return l.boot(ctx, l.page)
}

func (l *Loader) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(l.cfg.ReadyTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if l.page.has(RequiredEntryPoints) {
			return nil
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("%w: entry points not found after %s", status.ErrLoad, l.cfg.ReadyTimeout)
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", status.ErrLoad, ctx.Err())
		}
	}
}

func verifyIntegrity(integrity string, script []byte) error {
	algo, want, ok := strings.Cut(integrity, "-")
	if !ok {
		return fmt.Errorf("integrity: malformed value %q", integrity)
	}

	var h hash.Hash
	switch algo {
	case "sha256":
		h = sha256.New()
	case "sha384":
		h = sha512.New384()
	case "sha512":
		h = sha512.New()
	default:
		return fmt.Errorf("integrity: unsupported algorithm %q", algo)
	}
	h.Write(script)

	if got := base64.StdEncoding.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("integrity: digest mismatch for %s", algo)
	}
	return nil
}
