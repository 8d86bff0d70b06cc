package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"payflow/internal/services/audit"
	"payflow/internal/services/gateway"
	"payflow/internal/services/orchestrator"
	"payflow/internal/services/shell"
	"payflow/internal/services/widget"
	"payflow/internal/status"
	"payflow/monitoring"

	"github.com/google/uuid"
)

// Provider is the SDK every session page is bootstrapped from.
type Provider interface {
	Bootstrap() widget.Bootstrap
	Simulate(ctx context.Context, page *widget.Page, o gateway.Outcome) error
	Release(page *widget.Page)
}

type Snapshots interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}

type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

type Options struct {
	Widget   widget.Config
	Defaults gateway.Defaults
	Products map[shell.Kind]shell.Product

	// TTL is how long an idle or failed session stays in memory untouched.
	TTL              time.Duration
	ReconcileTimeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

type event struct {
	session  *Session
	from, to orchestrator.State
	at       time.Time
}

type Manager struct {
	provider Provider
	backend  shell.Backend
	store    Snapshots
	audit    Recorder
	opts     Options
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// transitions queued by orchestrator hooks and persisted by Run. The queue
	// is unbounded: a hook runs with its orchestrator locked and must not block.
	qmu    sync.Mutex
	queue  []event
	notify chan struct{}

	now func() time.Time
}

// NewManager wires sessions to the shared SDK provider and backend. rec may be nil.
func NewManager(p Provider, b shell.Backend, store Snapshots, rec Recorder, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider: p,
		backend:  b,
		store:    store,
		audit:    rec,
		opts:     opts,
		log:      logger,
		sessions: make(map[string]*Session),
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (m *Manager) newSession(id, actorID string) *Session {
	s := &Session{
		ID:        id,
		ActorID:   actorID,
		CreatedAt: m.now(),
		page:      widget.NewPage(),
		products:  m.opts.Products,
		backend:   m.backend,
	}
	s.loader = widget.NewLoader(m.opts.Widget, s.page, m.provider.Bootstrap(), m.opts.HTTPClient)
	s.adapter = gateway.NewAdapter(s.loader, m.opts.Defaults)
	s.orch = orchestrator.New(s.adapter, orchestrator.Options{
		ReconcileTimeout: m.opts.ReconcileTimeout,
		Logger:           m.log.With("session", id),
		Hooks: orchestrator.Hooks{
			OnTransition: func(from, to orchestrator.State) {
				m.enqueue(event{session: s, from: from, to: to, at: m.now()})
			},
		},
	})
	s.touch(m.now())
	return s
}

func (m *Manager) Create(actorID string) *Session {
	s := m.newSession(uuid.NewString(), actorID)

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	monitoring.SetActiveSessions(n)
	m.log.Info("session: created", "session", s.ID, "actor", actorID)
	return s
}

// Get returns the live session, or resumes one whose persisted state is an
// unresolved reconciliation failure. Any other persisted state is not resumable.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch(m.now())
		return s, nil
	}

	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Unresolved() {
		return nil, ErrNotFound
	}

	failed, sh, err := m.restoreState(rec)
	if err != nil {
		return nil, err
	}

	s = m.newSession(id, rec.ActorID)
	if err := s.orch.Restore(failed, sh); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		m.provider.Release(s.page)
		return existing, nil
	}
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	monitoring.SetActiveSessions(n)
	m.log.Warn("session: resumed unresolved reconciliation",
		"session", id, "tx", rec.Snapshot.Tx.ID, "gateway_tx", rec.Snapshot.Outcome.TransactionID)
	return s, nil
}

func (m *Manager) restoreState(rec *Record) (orchestrator.Failed, *shell.Shell, error) {
	snap := rec.Snapshot

	product, ok := productByType(m.opts.Products, snap.Tx.Type)
	if !ok {
		return orchestrator.Failed{}, nil, fmt.Errorf("%w: transaction type %s", ErrUnknownKind, snap.Tx.Type)
	}

	fv := snap.Failure
	prefix := string(fv.Kind)
	if fv.Code != "" {
		prefix += " [" + fv.Code + "]"
	}
	cause := strings.TrimPrefix(fv.Error, prefix+": ")
	if fv.Message != "" {
		cause = strings.TrimSuffix(cause, ": "+fv.Message)
	}
	failed := orchestrator.Failed{
		Reason: &status.Failure{
			Kind:        fv.Kind,
			Err:         errors.New(cause),
			Code:        fv.Code,
			Message:     fv.Message,
			GatewayTxID: fv.GatewayTxID,
		},
		Tx:      snap.Tx,
		Outcome: snap.Outcome,
	}
	return failed, shell.New(product, m.backend, rec.ActorID), nil
}

// List returns live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close drops a session. A payment being reconciled cannot be closed, and an
// unresolved reconciliation failure stays persisted so it can be resumed.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	switch st := s.orch.State().(type) {
	case orchestrator.Reconciling:
		return status.ErrBusy
	case orchestrator.Composing, orchestrator.AwaitingPayment:
		if err := s.orch.Cancel(); err != nil {
			return err
		}
	case orchestrator.Failed:
		if st.Reason != nil && st.Reason.Kind == status.KindReconciliation {
			m.evict(s)
			return nil
		}
	}

	m.evict(s)
	return m.store.Delete(ctx, id)
}

func (m *Manager) evict(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	n := len(m.sessions)
	m.mu.Unlock()

	m.provider.Release(s.page)
	monitoring.SetActiveSessions(n)
	m.log.Info("session: closed", "session", s.ID)
}

// Simulate hands o to the SDK widget open in the session's page.
func (m *Manager) Simulate(ctx context.Context, id string, o gateway.Outcome) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	return m.provider.Simulate(ctx, s.page, o)
}

// Sweep evicts idle and failed sessions untouched for longer than the TTL.
// Sessions awaiting payment are kept: their outcome may still arrive.
func (m *Manager) Sweep(now time.Time) int {
	var stale []*Session
	m.mu.RLock()
	for _, s := range m.sessions {
		if s.idleSince(now) < m.opts.TTL {
			continue
		}
		switch s.orch.State().(type) {
		case orchestrator.Idle, orchestrator.Failed:
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		m.evict(s)
	}
	return len(stale)
}

func (m *Manager) enqueue(ev event) {
	m.qmu.Lock()
	m.queue = append(m.queue, ev)
	n := len(m.queue)
	m.qmu.Unlock()

	monitoring.SetQueuedTransitions(n)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) dequeue() []event {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	q := m.queue
	m.queue = nil
	monitoring.SetQueuedTransitions(0)
	return q
}

// Run persists transitions and sweeps stale sessions until ctx is done.
// Flush persists what is still queued once the server has stopped.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.notify:
			for _, ev := range m.dequeue() {
				m.persist(ctx, ev)
			}
		case <-ticker.C:
			if n := m.Sweep(m.now()); n > 0 {
				m.log.Info("session: swept stale sessions", "count", n)
			}
		case <-ctx.Done():
			m.Flush(context.WithoutCancel(ctx))
			return
		}
	}
}

// Flush persists whatever transitions are queued.
func (m *Manager) Flush(ctx context.Context) {
	for {
		q := m.dequeue()
		if len(q) == 0 {
			return
		}
		for _, ev := range q {
			m.persist(ctx, ev)
		}
	}
}

func (m *Manager) persist(ctx context.Context, ev event) {
	rec := Record{
		SessionID: ev.session.ID,
		ActorID:   ev.session.ActorID,
		Snapshot:  orchestrator.Describe(ev.to),
		UpdatedAt: ev.at,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.log.Error("session: snapshot not saved", "session", rec.SessionID, "phase", rec.Snapshot.Phase, "error", err)
	}

	if m.audit == nil {
		return
	}
	e, ok := auditEntry(ev)
	if !ok {
		return
	}
	if err := m.audit.Record(ctx, e); err != nil {
		m.log.Error("session: audit not recorded", "session", rec.SessionID, "tx", e.TxID, "error", err)
	}
}

func txSnapshot(s orchestrator.State) *orchestrator.Snapshot {
	snap := orchestrator.Describe(s)
	if snap.Tx == nil {
		return nil
	}
	return &snap
}

// auditEntry maps a transition onto the attempt row of its transaction.
// Transitions with no transaction, and leaving a Failed state, are not recorded.
func auditEntry(ev event) (audit.Entry, bool) {
	if _, ok := ev.from.(orchestrator.Failed); ok {
		return audit.Entry{}, false
	}

	snap := txSnapshot(ev.to)
	if snap == nil {
		snap = txSnapshot(ev.from)
	}
	if snap == nil {
		return audit.Entry{}, false
	}
	tx := snap.Tx

	e := audit.Entry{
		SessionID: ev.session.ID,
		ActorID:   ev.session.ActorID,
		TxID:      tx.ID,
		Reference: tx.Reference,
		Type:      tx.Type,
		Amount:    tx.Amount,
		Phase:     string(ev.to.Phase()),
	}

	switch st := ev.to.(type) {
	case orchestrator.Reconciling:
		e.GatewayTxID = st.Outcome.TransactionID
	case orchestrator.Failed:
		if st.Reason != nil {
			e.FailureKind = string(st.Reason.Kind)
			e.Code = st.Reason.Code
			e.GatewayTxID = st.Reason.GatewayTxID
			e.Error = st.Reason.Error()
		}
	case orchestrator.Idle:
		switch from := ev.from.(type) {
		case orchestrator.Reconciling:
			e.Phase = audit.PhaseReconciled
			e.GatewayTxID = from.Outcome.TransactionID
		case orchestrator.AwaitingPayment:
			e.Phase = audit.PhaseCancelled
		}
	}
	return e, true
}
