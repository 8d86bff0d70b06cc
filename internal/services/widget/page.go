package widget

import (
	"sort"
	"sync"
)

// Entry points the payment SDK installs into the page once its script has run.
const (
	OpenWidget         = "openWidget"
	AddSuccessListener = "addSuccessListener"
	AddFailedListener  = "addFailedListener"
)

// RequiredEntryPoints must all be present before the SDK counts as loaded.
var RequiredEntryPoints = []string{OpenWidget, AddSuccessListener, AddFailedListener}

// Page is the global scope of one payment session. The SDK's script markers
// and the entry points it installs live here, one set per session.
type Page struct {
	mu      sync.RWMutex
	globals map[string]any
	scripts map[string]struct{}
}

func NewPage() *Page {
	return &Page{
		globals: make(map[string]any),
		scripts: make(map[string]struct{}),
	}
}

// Set installs a global entry point. Bootstraps call it.
func (p *Page) Set(name string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globals[name] = v
}

func (p *Page) Lookup(name string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.globals[name]
	return v, ok
}

// Scripts returns the script URLs currently inserted in the page.
func (p *Page) Scripts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.scripts))
	for src := range p.scripts {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// insertScript records src and reports whether it was not present before.
func (p *Page) insertScript(src string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.scripts[src]; ok {
		return false
	}
	p.scripts[src] = struct{}{}
	return true
}

func (p *Page) removeScript(src string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.scripts, src)
}

func (p *Page) has(names []string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, name := range names {
		if _, ok := p.globals[name]; !ok {
			return false
		}
	}
	return true
}
