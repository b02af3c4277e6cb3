// Package coordinator runs one shared upstream fetch on behalf of many
// readers. A Coordinator polls on an interval, refreshes on demand, collapses
// concurrent refreshes into a single in-flight call and publishes each result
// as an immutable snapshot.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/joshp123/deyehome/internal/logging"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	refreshKey          = "refresh"
)

// UpdateFunc fetches a complete snapshot from upstream.
type UpdateFunc[T any] func(ctx context.Context) (T, error)

// Options configures a Coordinator.
type Options struct {
	// Name labels logs and metrics.
	Name string
	// Interval between scheduled fetches. Zero disables polling.
	Interval time.Duration
	// Cooldown for RequestRefresh. Zero refreshes on every request.
	Cooldown time.Duration
	// FetchTimeout bounds a single upstream fetch.
	FetchTimeout time.Duration
	Logger       *logrus.Entry
}

// Coordinator owns the latest snapshot of type T.
type Coordinator[T any] struct {
	name         string
	interval     time.Duration
	fetchTimeout time.Duration
	update       UpdateFunc[T]
	log          *logrus.Entry

	group    singleflight.Group
	fetching atomic.Bool
	data     atomic.Pointer[T]

	mu          sync.Mutex
	lastSuccess bool
	lastErr     error
	lastUpdated time.Time
	started     bool
	closed      bool
	listeners   map[uint64]func()
	nextID      uint64

	// notifyMu is held for reading while listeners run so Shutdown can wait
	// them out.
	notifyMu sync.RWMutex

	ctx        context.Context
	cancel     context.CancelFunc
	reschedule chan struct{}
	debounce   *debouncer
	wg         sync.WaitGroup
}

// New creates a coordinator. Call Start to begin polling.
func New[T any](opts Options, update UpdateFunc[T]) *Coordinator[T] {
	if opts.Name == "" {
		opts.Name = "coordinator"
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component(nil, "coordinator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator[T]{
		name:         opts.Name,
		interval:     opts.Interval,
		fetchTimeout: opts.FetchTimeout,
		update:       update,
		log:          log.WithField("coordinator", opts.Name),
		lastSuccess:  true,
		listeners:    make(map[uint64]func()),
		ctx:          ctx,
		cancel:       cancel,
		reschedule:   make(chan struct{}, 1),
	}
	c.debounce = newDebouncer(opts.Cooldown, func() {
		_, _ = c.Refresh(c.ctx)
	})
	return c
}

// Name returns the coordinator label.
func (c *Coordinator[T]) Name() string {
	return c.name
}

// Start begins scheduled polling. It is a no-op after Shutdown or when the
// interval is zero.
func (c *Coordinator[T]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed || c.interval <= 0 {
		return
	}
	c.started = true
	c.wg.Add(1)
	go c.loop()
}

func (c *Coordinator[T]) loop() {
	defer c.wg.Done()

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reschedule:
			resetTimer(timer, c.interval)
		case <-timer.C:
			_, _ = c.Refresh(c.ctx)
			resetTimer(timer, c.interval)
		}
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

// FirstRefresh performs the initial fetch and returns its error, if any.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

// Refresh fetches a new snapshot, or joins the fetch already in flight. ctx
// only bounds the caller's wait; the shared fetch keeps running for other
// callers.
func (c *Coordinator[T]) Refresh(ctx context.Context) (T, error) {
	if c.isClosed() {
		return c.Data(), ErrShutdown
	}
	if c.fetching.Load() {
		joinedTotal.WithLabelValues(c.name).Inc()
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		c.fetching.Store(true)
		defer c.fetching.Store(false)
		return c.fetch()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return c.Data(), res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return c.Data(), ctx.Err()
	}
}

// RequestRefresh schedules a debounced refresh and returns immediately.
func (c *Coordinator[T]) RequestRefresh() {
	if c.isClosed() {
		return
	}
	c.debounce.Call()
}

func (c *Coordinator[T]) fetch() (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	start := time.Now()
	data, err := c.update(ctx)
	fetchDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		var zero T
		return zero, ErrShutdown
	}

	if err != nil {
		fetchTotal.WithLabelValues(c.name, "error").Inc()
		var failed *UpdateFailedError
		if !errors.As(err, &failed) {
			failed = &UpdateFailedError{Name: c.name, Err: err}
		}
		transition := c.lastSuccess
		c.lastSuccess = false
		c.lastErr = failed
		c.mu.Unlock()

		if transition {
			c.log.WithError(err).Warn("update failed")
			c.notify()
		}
		c.kick()
		var zero T
		return zero, failed
	}

	fetchTotal.WithLabelValues(c.name, "success").Inc()
	recovered := !c.lastSuccess
	c.data.Store(&data)
	c.lastSuccess = true
	c.lastErr = nil
	c.lastUpdated = time.Now()
	lastSuccessGauge.WithLabelValues(c.name).Set(float64(c.lastUpdated.Unix()))
	c.mu.Unlock()

	if recovered {
		c.log.Info("update recovered")
	}
	c.notify()
	c.kick()
	return data, nil
}

// SetData publishes a pushed snapshot without fetching. The poll schedule
// is left alone: a push usually covers one device, and the next fetch still
// has to reach the others.
func (c *Coordinator[T]) SetData(data T) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.data.Store(&data)
	c.lastSuccess = true
	c.lastErr = nil
	c.lastUpdated = time.Now()
	c.mu.Unlock()

	c.notify()
}

// Data returns the latest snapshot, or the zero value before the first one.
func (c *Coordinator[T]) Data() T {
	if ptr := c.data.Load(); ptr != nil {
		return *ptr
	}
	var zero T
	return zero
}

// HasData reports whether any snapshot was published.
func (c *Coordinator[T]) HasData() bool {
	return c.data.Load() != nil
}

func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

func (c *Coordinator[T]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator[T]) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// AddListener registers fn to run after each published snapshot and after
// a success/failure transition. The returned func removes it.
func (c *Coordinator[T]) AddListener(fn func()) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator[T]) notify() {
	c.notifyMu.RLock()
	defer c.notifyMu.RUnlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *Coordinator[T]) kick() {
	select {
	case c.reschedule <- struct{}{}:
	default:
	}
}

// Shutdown stops polling and the debouncer. A fetch still in flight finishes
// but its result is dropped and no listener fires after Shutdown returns.
func (c *Coordinator[T]) Shutdown() {
	c.notifyMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.notifyMu.Unlock()
		return
	}
	c.closed = true
	c.listeners = make(map[uint64]func())
	c.mu.Unlock()
	c.notifyMu.Unlock()

	c.debounce.Shutdown()
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator[T]) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
