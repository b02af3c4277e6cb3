package entry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshp123/deyehome/internal/entity"
)

type stubSwitch struct {
	entity.Base
}

func (s *stubSwitch) Available() bool                   { return true }
func (s *stubSwitch) Subscribe(fn func()) func()        { return func() {} }
func (s *stubSwitch) IsOn() bool                        { return false }
func (s *stubSwitch) TurnOn(ctx context.Context) error  { return nil }
func (s *stubSwitch) TurnOff(ctx context.Context) error { return nil }

type stubSession struct {
	entities []entity.Entity
	unloaded atomic.Bool
}

func (s *stubSession) Entities() []entity.Entity        { return s.entities }
func (s *stubSession) Unload(ctx context.Context) error { s.unloaded.Store(true); return nil }

type stubHandler struct {
	mu        sync.Mutex
	setupErrs []error
	setups    int
	sessions  []*stubSession
	passwords map[string]string
	down      bool

	// When gate is set, SetupEntry signals entered and blocks until gate
	// is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (h *stubHandler) Domain() string { return "stub" }

func (h *stubHandler) ValidateInput(ctx context.Context, input map[string]string) (FlowResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return FlowResult{}, fmt.Errorf("dial: %w", ErrCannotConnect)
	}
	if input[DataUsername] == "explode" {
		return FlowResult{}, errors.New("unexpected payload")
	}
	if h.passwords[input[DataUsername]] != input[DataPassword] {
		return FlowResult{}, ErrAuthFailed
	}
	data := map[string]string{
		DataUsername:  input[DataUsername],
		DataPassword:  input[DataPassword],
		DataAuthToken: "token-" + input[DataPassword],
	}
	return FlowResult{Title: input[DataUsername], UniqueID: "uid-" + input[DataUsername], Data: data}, nil
}

func (h *stubHandler) SetupEntry(ctx context.Context, e *Entry, host Host) (Session, error) {
	h.mu.Lock()
	gate, entered := h.gate, h.entered
	h.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.setups++
	if len(h.setupErrs) > 0 {
		err := h.setupErrs[0]
		h.setupErrs = h.setupErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	sw := &stubSwitch{Base: entity.NewBase(entity.Switch, e.ID+"-lock", e.Title+" lock", entity.Description{Key: "lock"}, entity.DeviceInfo{})}
	session := &stubSession{entities: []entity.Entity{sw}}
	h.sessions = append(h.sessions, session)
	return session, nil
}

func (h *stubHandler) setupCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setups
}

func newTestManager(t *testing.T, h *stubHandler) (*Manager, *entity.Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entries.json")
	registry := entity.NewRegistry(nil)
	m := NewManager(NewStore(path, nil, nil), registry, Options{RetryMin: 10 * time.Millisecond, RetryMax: 40 * time.Millisecond})
	m.RegisterHandler(h)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, registry, path
}

func TestCreateSetsUpAndRegistersEntities(t *testing.T) {
	h := &stubHandler{passwords: map[string]string{"alice": "pw"}}
	m, registry, path := newTestManager(t, h)

	outcome, err := m.Create(context.Background(), "stub", map[string]string{DataUsername: " alice ", DataPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, OutcomeCreateEntry, outcome.Type)
	require.NotNil(t, outcome.Entry)
	require.Equal(t, StateLoaded, outcome.Entry.State)
	require.Equal(t, "alice", outcome.Entry.Title)
	require.Equal(t, "token-pw", outcome.Entry.Data[DataAuthToken])
	require.Len(t, registry.ListEntry(outcome.Entry.ID), 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := m.Create(context.Background(), "stub", map[string]string{DataUsername: "alice", DataPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAbort, again.Type)
	require.Equal(t, AbortAlreadyConfigured, again.Reason)
	require.Len(t, m.List(), 1)
}

func TestCreateFlowErrorKeys(t *testing.T) {
	h := &stubHandler{passwords: map[string]string{"alice": "pw"}}
	m, _, _ := newTestManager(t, h)
	ctx := context.Background()

	cases := []struct {
		input map[string]string
		down  bool
		key   string
	}{
		{input: map[string]string{DataUsername: "alice", DataPassword: "wrong"}, key: ErrorInvalidAuth},
		{input: map[string]string{DataUsername: "alice", DataPassword: "pw"}, down: true, key: ErrorCannotConnect},
		{input: map[string]string{DataUsername: "explode"}, key: ErrorUnknown},
	}
	for _, tc := range cases {
		h.mu.Lock()
		h.down = tc.down
		h.mu.Unlock()

		_, err := m.Create(ctx, "stub", tc.input)
		var flowErr *FlowError
		require.ErrorAs(t, err, &flowErr)
		require.Equal(t, tc.key, flowErr.Key)
	}
	require.Empty(t, m.List())

	_, err := m.Create(ctx, "nope", nil)
	require.ErrorIs(t, err, ErrUnknownDomain)
}

func TestSetupAuthFailureNeedsReauth(t *testing.T) {
	h := &stubHandler{passwords: map[string]string{"alice": "pw"}}
	m, registry, _ := newTestManager(t, h)

	h.setupErrs = []error{fmt.Errorf("login: %w", ErrAuthFailed)}
	outcome, err := m.Create(context.Background(), "stub", map[string]string{DataUsername: "alice", DataPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, StateSetupAuthError, outcome.Entry.State)
	require.Empty(t, registry.List())

	h.mu.Lock()
	h.passwords["alice"] = "new"
	h.mu.Unlock()

	_, err = m.Reauth(context.Background(), outcome.Entry.ID, map[string]string{DataPassword: "bad"})
	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	require.Equal(t, ErrorInvalidAuth, flowErr.Key)

	result, err := m.Reauth(context.Background(), outcome.Entry.ID, map[string]string{DataPassword: "new"})
	require.NoError(t, err)
	require.Equal(t, AbortReauthSuccessful, result.Reason)

	e, ok := m.Get(outcome.Entry.ID)
	require.True(t, ok)
	require.Equal(t, StateLoaded, e.State)
	require.Equal(t, "new", e.Data[DataPassword])
	require.Equal(t, "token-new", e.Data[DataAuthToken])
	require.Len(t, registry.List(), 1)
}

func TestSetupNotReadyRetriesWithBackoff(t *testing.T) {
	h := &stubHandler{passwords: map[string]string{"alice": "pw"}}
	m, registry, _ := newTestManager(t, h)

	h.setupErrs = []error{ErrNotReady, ErrNotReady}
	outcome, err := m.Create(context.Background(), "stub", map[string]string{DataUsername: "alice", DataPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, StateSetupRetry, outcome.Entry.State)

	require.Eventually(t, func() bool {
		e, _ := m.Get(outcome.Entry.ID)
		return e.State == StateLoaded
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 3, h.setupCount())
	require.Len(t, registry.List(), 1)
}

func TestUnloadCancelsRetry(t *testing.T) {
	h := &stubHandler{passwords: map[string]string{"alice": "pw"}}
	m, _, _ := newTestManager(t, h)
	m.opts.RetryMin = 50 * time.Millisecond

	h.setupErrs = []error{ErrNotReady}
	outcome, err := m.Create(context.Background(), "stub", map[string]string{DataUsername: "alice", DataPassword: "pw"})
	require.NoError(t, err)
	require.NoError(t, m.Unload(context.Background(), outcome.Entry.ID))

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 1, h.setupCount())
	e, _ := m.Get(outcome.Entry.ID)
	require.Equal(t, StateNotLoaded, e.State)
}

func TestUnloadAndRemove(t *testing.T) {
	h := &stubHandler{passwords: map[string]string{"alice": "pw"}}
	m, registry, path := newTestManager(t, h)

	outcome, err := m.Create(context.Background(), "stub", map[string]string{DataUsername: "alice", DataPassword: "pw"})
	require.NoError(t, err)
	id := outcome.Entry.ID

	require.NoError(t, m.Reload(context.Background(), id))
	require.True(t, h.sessions[0].unloaded.Load())
	require.Len(t, registry.List(), 1)

	require.NoError(t, m.Remove(context.Background(), id))
	require.True(t, h.sessions[1].unloaded.Load())
	require.Empty(t, registry.List())
	require.Empty(t, m.List())

	entries, err := NewStore(path, nil, nil).Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)

	require.ErrorIs(t, m.Unload(context.Background(), id), ErrEntryNotFound)
}

func TestLoadAndSetupAll(t *testing.T) {
	h := &stubHandler{passwords: map[string]string{"alice": "pw"}}
	path := filepath.Join(t.TempDir(), "entries.json")
	store := NewStore(path, nil, nil)
	require.NoError(t, store.Save(context.Background(), []Entry{{
		ID: "e1", Domain: "stub", Title: "alice", UniqueID: "uid-alice",
		Data: map[string]string{DataUsername: "alice", DataPassword: "pw"},
	}}))

	registry := entity.NewRegistry(nil)
	m := NewManager(store, registry, Options{})
	m.RegisterHandler(h)
	require.NoError(t, m.Load(context.Background()))
	m.SetupAll(context.Background())

	e, ok := m.Get("e1")
	require.True(t, ok)
	require.Equal(t, StateLoaded, e.State)

	require.NoError(t, m.UpdateEntryData("e1", map[string]string{DataAuthToken: "fresh"}))
	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh", entries[0].Data[DataAuthToken])

	require.NoError(t, m.Close(context.Background()))
	require.Empty(t, registry.List())
	require.ErrorIs(t, m.Setup(context.Background(), "e1"), ErrManagerClosed)
}

func newGatedManager(t *testing.T) (*Manager, *stubHandler, *entity.Registry) {
	t.Helper()
	h := &stubHandler{
		passwords: map[string]string{"alice": "pw"},
		gate:      make(chan struct{}),
		entered:   make(chan struct{}, 1),
	}
	store := NewStore(filepath.Join(t.TempDir(), "entries.json"), nil, nil)
	require.NoError(t, store.Save(context.Background(), []Entry{{
		ID: "e1", Domain: "stub", Title: "alice", UniqueID: "uid-alice",
		Data: map[string]string{DataUsername: "alice", DataPassword: "pw"},
	}}))
	registry := entity.NewRegistry(nil)
	m := NewManager(store, registry, Options{RetryMin: 10 * time.Millisecond, RetryMax: 40 * time.Millisecond})
	m.RegisterHandler(h)
	require.NoError(t, m.Load(context.Background()))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, h, registry
}

func TestUnloadDuringSetupDiscardsSession(t *testing.T) {
	m, h, registry := newGatedManager(t)

	done := make(chan error, 1)
	go func() { done <- m.Setup(context.Background(), "e1") }()
	<-h.entered

	require.NoError(t, m.Unload(context.Background(), "e1"))
	close(h.gate)

	err := <-done
	require.ErrorIs(t, err, ErrSetupCancelled)

	e, ok := m.Get("e1")
	require.True(t, ok)
	require.Equal(t, StateNotLoaded, e.State)
	require.Empty(t, registry.List())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.sessions, 1)
	require.True(t, h.sessions[0].unloaded.Load())
}

func TestConcurrentSetupIsRejected(t *testing.T) {
	m, h, registry := newGatedManager(t)

	done := make(chan error, 1)
	go func() { done <- m.Setup(context.Background(), "e1") }()
	<-h.entered

	require.ErrorIs(t, m.Setup(context.Background(), "e1"), ErrSetupRunning)
	close(h.gate)
	require.NoError(t, <-done)

	e, _ := m.Get("e1")
	require.Equal(t, StateLoaded, e.State)
	require.Len(t, registry.List(), 1)
	require.Equal(t, 1, h.setupCount())
}

func TestStaleRetryDoesNotReviveEntry(t *testing.T) {
	h := &stubHandler{passwords: map[string]string{"alice": "pw"}}
	m, registry, _ := newTestManager(t, h)

	outcome, err := m.Create(context.Background(), "stub", map[string]string{DataUsername: "alice", DataPassword: "pw"})
	require.NoError(t, err)
	id := outcome.Entry.ID

	m.mu.Lock()
	gen := m.generation[id]
	m.mu.Unlock()
	require.NoError(t, m.Unload(context.Background(), id))

	require.ErrorIs(t, m.setup(context.Background(), id, &gen), ErrSetupCancelled)
	e, _ := m.Get(id)
	require.Equal(t, StateNotLoaded, e.State)
	require.Empty(t, registry.List())
	require.Equal(t, 1, h.setupCount())
}

func TestRedacted(t *testing.T) {
	e := Entry{Data: map[string]string{DataUsername: "alice", DataPassword: "pw", DataAuthToken: "t"}}
	red := e.Redacted()
	require.Equal(t, "alice", red.Data[DataUsername])
	require.NotEqual(t, "pw", red.Data[DataPassword])
	require.NotEqual(t, "t", red.Data[DataAuthToken])
	require.Equal(t, "pw", e.Data[DataPassword])
}
