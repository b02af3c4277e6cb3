package deye

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/deyehome/internal/coordinator"
	"github.com/joshp123/deyehome/internal/entity"
)

const maxParallelFetches = 4

var (
	ErrUnknownDevice       = errors.New("unknown device")
	ErrUnsupportedPlatform = errors.New("unsupported device platform")
	errNoClassicTransport  = errors.New("classic transport not connected")
)

// DeviceStatus is the last known status of one device.
type DeviceStatus struct {
	Device   Device      `json:"device"`
	Features Features    `json:"-"`
	State    DeviceState `json:"state"`
	Online   bool        `json:"online"`
	// Stale is set when the device was listed but its state could not be
	// read in the last fetch. State then holds the previous value.
	Stale bool `json:"stale"`
}

func (s DeviceStatus) Available() bool {
	return s.Online && !s.Stale
}

// Snapshot is the immutable state of every device of one account. Writers
// build a new Snapshot; nobody mutates a published one.
type Snapshot struct {
	Devices   map[string]DeviceStatus `json:"devices"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// Device looks up one device.
func (s Snapshot) Device(deviceID string) (DeviceStatus, bool) {
	status, ok := s.Devices[deviceID]
	return status, ok
}

func (s Snapshot) with(deviceID string, status DeviceStatus) Snapshot {
	devices := make(map[string]DeviceStatus, len(s.Devices))
	for id, st := range s.Devices {
		devices[id] = st
	}
	devices[deviceID] = status
	return Snapshot{Devices: devices, FetchedAt: s.FetchedAt}
}

// cloudAPI is the part of the cloud client an account polls and commands
// through.
type cloudAPI interface {
	DeviceList(ctx context.Context) ([]Device, error)
	FogProperties(ctx context.Context, deviceID string) (map[string]any, error)
	SetFogProperties(ctx context.Context, deviceID string, props map[string]any) error
}

type accountOptions struct {
	EntryID      string
	Title        string
	Release      func()
	Cloud        cloudAPI
	Classic      classicTransport
	Devices      []Device
	Catalog      *Catalog
	PollInterval time.Duration
	Cooldown     time.Duration
	Mute         time.Duration
	StateTimeout time.Duration
	Logger       *logrus.Entry
}

// Account is one loaded config entry: the cloud session, the optional
// classic transport and the coordinator shared by every entity of the
// account.
type Account struct {
	entryID      string
	title        string
	cloud        cloudAPI
	classic      classicTransport
	devices      []Device
	features     map[string]Features
	mute         time.Duration
	stateTimeout time.Duration
	log          *logrus.Entry
	release      func()

	coordinator *coordinator.Coordinator[Snapshot]

	// pushMu serializes copy-on-write snapshot updates.
	pushMu sync.Mutex

	mu         sync.Mutex
	mutedUntil map[string]time.Time
	pending    map[string]DeviceState
	waiters    map[string][]chan DeviceState
	unsubs     []func()
	entities   []entity.Entity
	closed     bool
}

func newAccount(opts accountOptions) *Account {
	a := &Account{
		entryID:      opts.EntryID,
		title:        opts.Title,
		cloud:        opts.Cloud,
		classic:      opts.Classic,
		devices:      opts.Devices,
		features:     make(map[string]Features, len(opts.Devices)),
		mute:         opts.Mute,
		stateTimeout: opts.StateTimeout,
		log:          opts.Logger.WithField("entry_id", opts.EntryID),
		release:      opts.Release,
		mutedUntil:   make(map[string]time.Time),
		pending:      make(map[string]DeviceState),
		waiters:      make(map[string][]chan DeviceState),
	}
	for _, d := range opts.Devices {
		a.features[d.DeviceID] = opts.Catalog.Lookup(d.ProductID, d.ProductName)
	}
	a.coordinator = coordinator.New(coordinator.Options{
		Name:     "deye_" + opts.EntryID,
		Interval: opts.PollInterval,
		Cooldown: opts.Cooldown,
		Logger:   a.log,
	}, a.fetch)
	a.entities = buildEntities(a)
	return a
}

func (a *Account) EntryID() string { return a.entryID }

func (a *Account) Title() string { return a.title }

// Devices returns the devices found at setup, in cloud order.
func (a *Account) Devices() []Device {
	out := make([]Device, len(a.devices))
	copy(out, a.devices)
	return out
}

// Snapshot returns the latest published snapshot.
func (a *Account) Snapshot() Snapshot {
	return a.coordinator.Data()
}

// Status returns the status of one device. While the device is muted after
// a command its state is the commanded one, whatever the last fetch saw.
func (a *Account) Status(deviceID string) (DeviceStatus, bool) {
	status, ok := a.coordinator.Data().Device(deviceID)
	if !ok {
		return DeviceStatus{}, false
	}
	if state, muted := a.pendingState(deviceID); muted {
		status.State = state
	}
	return status, true
}

// Healthy reports whether the last fetch succeeded.
func (a *Account) Healthy() bool {
	return a.coordinator.LastUpdateSuccess()
}

// Refresh fetches now, or joins the fetch in flight.
func (a *Account) Refresh(ctx context.Context) (Snapshot, error) {
	return a.coordinator.Refresh(ctx)
}

// start subscribes to pushed state, runs the first fetch and starts polling.
func (a *Account) start(ctx context.Context) error {
	if err := a.subscribe(); err != nil {
		return err
	}
	if err := a.coordinator.FirstRefresh(ctx); err != nil {
		return err
	}
	a.coordinator.Start()
	return nil
}

func (a *Account) subscribe() error {
	if a.classic == nil {
		return nil
	}
	for _, d := range a.devices {
		if d.Platform != PlatformClassic {
			continue
		}
		deviceID := d.DeviceID
		unsubState, err := a.classic.SubscribeState(d.ProductID, deviceID, func(state DeviceState) {
			a.onState(deviceID, state)
		})
		if err != nil {
			return fmt.Errorf("subscribe state %s: %w", deviceID, err)
		}
		unsubOnline, err := a.classic.SubscribeAvailability(d.ProductID, deviceID, func(online bool) {
			a.onAvailability(deviceID, online)
		})
		if err != nil {
			unsubState()
			return fmt.Errorf("subscribe availability %s: %w", deviceID, err)
		}
		a.mu.Lock()
		a.unsubs = append(a.unsubs, unsubState, unsubOnline)
		a.mu.Unlock()
	}
	return nil
}

// Entities implements entry.Session.
func (a *Account) Entities() []entity.Entity {
	return a.entities
}

// Unload implements entry.Session. A fetch still in flight finishes but its
// result is discarded.
func (a *Account) Unload(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	unsubs := a.unsubs
	a.unsubs = nil
	a.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	a.coordinator.Shutdown()
	if a.classic != nil {
		a.classic.Close()
	}
	if a.release != nil {
		a.release()
	}
	a.log.Debug("account unloaded")
	return nil
}

func (a *Account) fetch(ctx context.Context) (Snapshot, error) {
	listed, err := a.cloud.DeviceList(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	online := make(map[string]bool, len(listed))
	for _, d := range listed {
		online[d.DeviceID] = d.Online
	}

	prev := a.coordinator.Data()
	results := make([]DeviceStatus, len(a.devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, d := range a.devices {
		g.Go(func() error {
			status := DeviceStatus{
				Device:   d,
				Features: a.features[d.DeviceID],
				State:    d.InitialState(),
				Online:   online[d.DeviceID],
			}
			if old, ok := prev.Device(d.DeviceID); ok {
				status.State = old.State
			}
			if state, muted := a.pendingState(d.DeviceID); muted {
				status.State = state
				results[i] = status
				return nil
			}
			if !status.Online {
				results[i] = status
				return nil
			}
			state, err := a.fetchState(gctx, d)
			if err != nil {
				a.log.WithError(err).WithField("device_id", d.DeviceID).Debug("device state fetch failed")
				status.Stale = true
			} else {
				status.State = state
			}
			results[i] = status
			return nil
		})
	}
	_ = g.Wait()

	next := Snapshot{Devices: make(map[string]DeviceStatus, len(results)), FetchedAt: time.Now()}
	for _, status := range results {
		next.Devices[status.Device.DeviceID] = status
	}
	return next, nil
}

func (a *Account) fetchState(ctx context.Context, d Device) (DeviceState, error) {
	switch d.Platform {
	case PlatformFog:
		props, err := a.cloud.FogProperties(ctx, d.DeviceID)
		if err != nil {
			return DeviceState{}, err
		}
		return ParseProperties(props)
	case PlatformClassic:
		return a.queryClassic(ctx, d)
	default:
		return DeviceState{}, fmt.Errorf("%w: %d", ErrUnsupportedPlatform, d.Platform)
	}
}

// queryClassic asks the device to publish its state and waits for it to
// arrive on the state subscription.
func (a *Account) queryClassic(ctx context.Context, d Device) (DeviceState, error) {
	if a.classic == nil {
		return DeviceState{}, errNoClassicTransport
	}
	ch := make(chan DeviceState, 1)
	a.mu.Lock()
	a.waiters[d.DeviceID] = append(a.waiters[d.DeviceID], ch)
	a.mu.Unlock()
	defer a.removeWaiter(d.DeviceID, ch)

	if err := a.classic.PublishCommand(d.ProductID, d.DeviceID, QueryStateCommand); err != nil {
		return DeviceState{}, err
	}

	timer := time.NewTimer(a.stateTimeout)
	defer timer.Stop()
	select {
	case state := <-ch:
		return state, nil
	case <-timer.C:
		return DeviceState{}, fmt.Errorf("no state from %s within %s", d.DeviceID, a.stateTimeout)
	case <-ctx.Done():
		return DeviceState{}, ctx.Err()
	}
}

func (a *Account) removeWaiter(deviceID string, ch chan DeviceState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.waiters[deviceID]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(a.waiters, deviceID)
	} else {
		a.waiters[deviceID] = list
	}
}

// onState handles a pushed state. A pending query takes it; otherwise it is
// published directly.
func (a *Account) onState(deviceID string, state DeviceState) {
	a.mu.Lock()
	if a.closed || a.mutedLocked(deviceID) {
		a.mu.Unlock()
		return
	}
	waiters := a.waiters[deviceID]
	for _, ch := range waiters {
		select {
		case ch <- state:
		default:
		}
	}
	a.mu.Unlock()
	if len(waiters) > 0 {
		return
	}
	a.push(deviceID, func(s *DeviceStatus) {
		s.State = state
		s.Online = true
		s.Stale = false
	})
}

func (a *Account) onAvailability(deviceID string, online bool) {
	a.mu.Lock()
	skip := a.closed || a.mutedLocked(deviceID)
	a.mu.Unlock()
	if skip {
		return
	}
	a.push(deviceID, func(s *DeviceStatus) {
		s.Online = online
	})
}

func (a *Account) push(deviceID string, mutate func(*DeviceStatus)) {
	a.pushMu.Lock()
	defer a.pushMu.Unlock()
	if !a.coordinator.HasData() {
		return
	}
	snap := a.coordinator.Data()
	status, ok := snap.Device(deviceID)
	if !ok {
		return
	}
	mutate(&status)
	a.coordinator.SetData(snap.with(deviceID, status))
}

// pendingState returns the last commanded state while the device is muted.
func (a *Account) pendingState(deviceID string) (DeviceState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.mutedLocked(deviceID) {
		return DeviceState{}, false
	}
	state, ok := a.pending[deviceID]
	return state, ok
}

func (a *Account) mutedLocked(deviceID string) bool {
	until, ok := a.mutedUntil[deviceID]
	if !ok {
		return false
	}
	if time.Now().Before(until) {
		return true
	}
	delete(a.mutedUntil, deviceID)
	delete(a.pending, deviceID)
	return false
}

// SendCommand applies mutate to a copy of the device's current state and
// sends the result. On success the new state is published optimistically
// and held for the mute window, during which pushed and fetched state for
// the device is ignored. A refresh is requested either way.
func (a *Account) SendCommand(ctx context.Context, deviceID string, mutate func(*DeviceState)) error {
	status, ok := a.Status(deviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	state := status.State
	mutate(&state)
	cmd := state.Command()

	var err error
	switch status.Device.Platform {
	case PlatformClassic:
		if a.classic == nil {
			err = errNoClassicTransport
		} else {
			err = a.classic.PublishCommand(status.Device.ProductID, deviceID, cmd.Bytes())
		}
	case PlatformFog:
		err = a.cloud.SetFogProperties(ctx, deviceID, cmd.Properties())
	default:
		err = fmt.Errorf("%w: %d", ErrUnsupportedPlatform, status.Device.Platform)
	}
	if err != nil {
		commandsTotal.WithLabelValues("error").Inc()
		// The device may have applied part of the command; re-read it.
		a.coordinator.RequestRefresh()
		return err
	}
	commandsTotal.WithLabelValues("success").Inc()

	if a.mute > 0 {
		a.mu.Lock()
		a.mutedUntil[deviceID] = time.Now().Add(a.mute)
		a.pending[deviceID] = state
		a.mu.Unlock()
	}
	a.push(deviceID, func(s *DeviceStatus) {
		s.State = state
	})
	a.coordinator.RequestRefresh()
	return nil
}

// accountSet tracks loaded accounts by entry id.
type accountSet struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func newAccountSet() *accountSet {
	return &accountSet{accounts: make(map[string]*Account)}
}

func (s *accountSet) add(a *Account) {
	s.mu.Lock()
	s.accounts[a.entryID] = a
	s.mu.Unlock()
}

func (s *accountSet) remove(entryID string) {
	s.mu.Lock()
	delete(s.accounts, entryID)
	s.mu.Unlock()
}

func (s *accountSet) get(entryID string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[entryID]
	return a, ok
}

func (s *accountSet) list() []*Account {
	s.mu.RLock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].entryID < out[j].entryID })
	return out
}
