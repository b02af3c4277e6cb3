package entry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/deyehome/internal/entity"
	"github.com/joshp123/deyehome/internal/logging"
)

const (
	DefaultRetryMin     = 5 * time.Second
	DefaultRetryMax     = 5 * time.Minute
	DefaultSetupTimeout = time.Minute
)

// Options tunes the manager. Zero values take defaults.
type Options struct {
	RetryMin     time.Duration
	RetryMax     time.Duration
	SetupTimeout time.Duration
	Logger       *logrus.Entry
}

type retry struct {
	timer *time.Timer
	delay time.Duration
}

// Manager owns every config entry and its loaded session.
type Manager struct {
	store    *Store
	registry *entity.Registry
	opts     Options
	log      *logrus.Entry

	mu       sync.Mutex
	handlers map[string]Handler
	entries  map[string]*Entry
	sessions map[string]Session
	retries  map[string]*retry

	// generation is bumped by Unload; a setup that started under an older
	// generation discards its session instead of storing it.
	generation map[string]uint64
	setting    map[string]bool
	closed     bool
}

func NewManager(store *Store, registry *entity.Registry, opts Options) *Manager {
	if opts.RetryMin <= 0 {
		opts.RetryMin = DefaultRetryMin
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = DefaultRetryMax
	}
	if opts.SetupTimeout <= 0 {
		opts.SetupTimeout = DefaultSetupTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component(nil, "entries")
	}
	return &Manager{
		store:    store,
		registry: registry,
		opts:     opts,
		log:      log,
		handlers: make(map[string]Handler),
		entries:  make(map[string]*Entry),
		sessions: make(map[string]Session),
		retries:  make(map[string]*retry),

		generation: make(map[string]uint64),
		setting:    make(map[string]bool),
	}
}

// RegisterHandler adds the handler for its domain.
func (m *Manager) RegisterHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[h.Domain()] = h
}

// Domains lists domains with a registered handler.
func (m *Manager) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.handlers))
	for domain := range m.handlers {
		out = append(out, domain)
	}
	return out
}

// Load reads persisted entries. Call once before SetupAll.
func (m *Manager) Load(ctx context.Context) error {
	entries, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entries {
		e := entries[i]
		m.entries[e.ID] = &e
	}
	m.log.WithField("count", len(entries)).Info("entries loaded")
	return nil
}

// SetupAll sets up every entry that is not loaded. Failures are recorded on
// the entry, not returned.
func (m *Manager) SetupAll(ctx context.Context) {
	for _, e := range m.List() {
		if e.State == StateLoaded {
			continue
		}
		if err := m.Setup(ctx, e.ID); err != nil {
			m.log.WithError(err).WithField("entry_id", e.ID).Warn("entry setup failed")
		}
	}
}

// Setup loads one entry through its domain handler and registers the
// session's entities. Only one setup per entry runs at a time; an Unload
// that lands while the handler is working wins.
func (m *Manager) Setup(ctx context.Context, id string) error {
	return m.setup(ctx, id, nil)
}

// setup with a non-nil gen only proceeds while the entry is still at that
// generation; retry timers use it so a stale timer cannot revive an entry.
func (m *Manager) setup(ctx context.Context, id string, gen *uint64) error {
	m.mu.Lock()
	if gen != nil && m.generation[id] != *gen {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSetupCancelled, id)
	}
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if _, loaded := m.sessions[id]; loaded {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, id)
	}
	if m.setting[id] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSetupRunning, id)
	}
	handler, ok := m.handlers[e.Domain]
	if !ok {
		e.State = StateSetupError
		e.Reason = ErrUnknownDomain.Error()
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDomain, e.Domain)
	}
	m.stopRetryLocked(id)
	m.setting[id] = true
	started := m.generation[id]
	snapshot := e.clone()
	m.mu.Unlock()

	log := m.log.WithFields(logrus.Fields{"entry_id": id, "domain": snapshot.Domain})

	setupCtx, cancel := context.WithTimeout(ctx, m.opts.SetupTimeout)
	defer cancel()
	session, err := handler.SetupEntry(setupCtx, &snapshot, m)
	if err == nil && session == nil {
		err = ErrMissingSession
	}
	if err == nil {
		if addErr := m.registry.Add(id, session.Entities()...); addErr != nil {
			_ = session.Unload(ctx)
			err = addErr
		}
	}

	m.mu.Lock()
	e, ok = m.entries[id]
	if !ok || m.closed || m.generation[id] != started {
		m.mu.Unlock()
		// The setting marker stays up until the stale session is gone so a
		// follow-up setup cannot register entities this cleanup would drop.
		if err == nil {
			m.registry.RemoveEntry(id)
			_ = session.Unload(ctx)
			log.Info("entry unloaded during setup; session discarded")
		}
		m.mu.Lock()
		delete(m.setting, id)
		m.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		return fmt.Errorf("%w: %s", ErrSetupCancelled, id)
	}
	defer m.mu.Unlock()
	delete(m.setting, id)

	switch {
	case err == nil:
		m.sessions[id] = session
		delete(m.retries, id)
		e.State = StateLoaded
		e.Reason = ""
		log.Info("entry loaded")
		return nil
	case errors.Is(err, ErrAuthFailed):
		e.State = StateSetupAuthError
		e.Reason = err.Error()
		log.WithError(err).Warn("entry needs reauth")
	case errors.Is(err, ErrNotReady):
		e.State = StateSetupRetry
		e.Reason = err.Error()
		delay := m.scheduleRetryLocked(id)
		log.WithError(err).WithField("retry_in", delay.String()).Warn("entry not ready")
	default:
		e.State = StateSetupError
		e.Reason = err.Error()
		log.WithError(err).Error("entry setup failed")
	}
	return err
}

func (m *Manager) scheduleRetryLocked(id string) time.Duration {
	r, ok := m.retries[id]
	if !ok {
		r = &retry{delay: m.opts.RetryMin}
		m.retries[id] = r
	} else {
		r.delay *= 2
		if r.delay > m.opts.RetryMax {
			r.delay = m.opts.RetryMax
		}
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	gen := m.generation[id]
	r.timer = time.AfterFunc(r.delay, func() {
		_ = m.setup(context.Background(), id, &gen)
	})
	return r.delay
}

func (m *Manager) stopRetryLocked(id string) {
	if r, ok := m.retries[id]; ok && r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Unload tears down a loaded entry and cancels a pending setup retry.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	m.stopRetryLocked(id)
	delete(m.retries, id)
	m.generation[id]++
	session := m.sessions[id]
	delete(m.sessions, id)
	e.State = StateNotLoaded
	e.Reason = ""
	m.mu.Unlock()

	m.registry.RemoveEntry(id)
	if session == nil {
		return nil
	}
	if err := session.Unload(ctx); err != nil {
		return fmt.Errorf("unload %s: %w", id, err)
	}
	m.log.WithField("entry_id", id).Info("entry unloaded")
	return nil
}

// Reload unloads and sets up the entry again.
func (m *Manager) Reload(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil {
		return err
	}
	return m.Setup(ctx, id)
}

// Remove unloads and deletes the entry.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, id)
	delete(m.generation, id)
	m.mu.Unlock()
	return m.persist(ctx)
}

// UpdateEntryData implements Host.
func (m *Manager) UpdateEntryData(id string, data map[string]string) error {
	return m.UpdateData(id, data)
}

// UpdateData merges data into the entry and persists it.
func (m *Manager) UpdateData(id string, data map[string]string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if e.Data == nil {
		e.Data = make(map[string]string, len(data))
	}
	for k, v := range data {
		e.Data[k] = v
	}
	m.mu.Unlock()
	return m.persist(context.Background())
}

func (m *Manager) add(e Entry) error {
	m.mu.Lock()
	m.entries[e.ID] = &e
	m.mu.Unlock()
	return m.persist(context.Background())
}

func (m *Manager) persist(ctx context.Context) error {
	return m.store.Save(ctx, m.List())
}

func (m *Manager) findUnique(domain, uniqueID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Domain == domain && e.UniqueID == uniqueID && uniqueID != "" {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

func (m *Manager) handler(domain string) (Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	return h, nil
}

// List returns copies of all entries.
func (m *Manager) List() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.clone())
	}
	m.mu.Unlock()
	sortEntries(out)
	return out
}

func (m *Manager) Get(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Close stops new setups, then unloads every entry and stops retries.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Unload(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newEntryID() string {
	return uuid.NewString()
}
