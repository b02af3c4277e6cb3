package entity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeBase struct {
	Base
	mu        sync.Mutex
	available bool
	subs      map[int]func()
	next      int
}

func newFakeBase(platform Platform, key string) *fakeBase {
	device := DeviceInfo{Identifier: "AA:BB", Name: "Bedroom", Manufacturer: "Deye", Model: "DYD-612"}
	return &fakeBase{
		Base:      NewBase(platform, "AABB-"+key, "deye_aabb_"+key, Description{Key: key, Name: key}, device),
		available: true,
		subs:      make(map[int]func()),
	}
}

func (f *fakeBase) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeBase) Subscribe(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeBase) changed() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeSwitch struct {
	*fakeBase
	on  bool
	err error
}

func (s *fakeSwitch) IsOn() bool { return s.on }
func (s *fakeSwitch) TurnOn(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.on = true
	s.changed()
	return nil
}
func (s *fakeSwitch) TurnOff(ctx context.Context) error {
	s.on = false
	s.changed()
	return nil
}

type fakeHumidifier struct {
	*fakeBase
	on     bool
	target int
	mode   string
}

func (h *fakeHumidifier) IsOn() bool               { return h.on }
func (h *fakeHumidifier) TargetHumidity() int      { return h.target }
func (h *fakeHumidifier) CurrentHumidity() int     { return 55 }
func (h *fakeHumidifier) MinHumidity() int         { return 30 }
func (h *fakeHumidifier) MaxHumidity() int         { return 80 }
func (h *fakeHumidifier) Mode() string             { return h.mode }
func (h *fakeHumidifier) AvailableModes() []string { return []string{"manual", "sleep"} }
func (h *fakeHumidifier) Action() string           { return "drying" }
func (h *fakeHumidifier) TurnOn(ctx context.Context) error {
	h.on = true
	return nil
}
func (h *fakeHumidifier) TurnOff(ctx context.Context) error {
	h.on = false
	return nil
}
func (h *fakeHumidifier) SetHumidity(ctx context.Context, humidity int) error {
	h.target = humidity
	return nil
}
func (h *fakeHumidifier) SetMode(ctx context.Context, mode string) error {
	h.mode = mode
	return nil
}

type fakeSensor struct {
	*fakeBase
	value any
}

func (s *fakeSensor) NativeValue() any { return s.value }

func TestIDAndSlug(t *testing.T) {
	require.Equal(t, "switch.deye_aa_bb_cc_child_lock", ID(Switch, "Deye AA:BB:CC child-lock"))
	require.Equal(t, "deye_1_fan", ObjectID("fan.deye_1_fan"))
}

func TestRenderHumidifier(t *testing.T) {
	h := &fakeHumidifier{fakeBase: newFakeBase(Humidifier, "dehumidifier"), on: true, target: 45, mode: "manual"}
	state := Render(h)

	require.Equal(t, "humidifier.deye_aabb_dehumidifier", state.EntityID)
	require.Equal(t, "on", state.State)
	require.Equal(t, 45, state.Attributes["humidity"])
	require.Equal(t, 55, state.Attributes["current_humidity"])
	require.Equal(t, "drying", state.Attributes["action"])
	require.Equal(t, "Bedroom dehumidifier", state.Attributes["friendly_name"])
}

func TestRenderUnavailable(t *testing.T) {
	sensor := &fakeSensor{fakeBase: newFakeBase(Sensor, "humidity"), value: 61}
	sensor.fakeBase.Base.desc.Unit = "%"
	require.Equal(t, "61", Render(sensor).State)

	sensor.available = false
	state := Render(sensor)
	require.Equal(t, StateUnavailable, state.State)
	require.False(t, state.Available)
	require.Equal(t, "%", state.Attributes["unit_of_measurement"])
}

func TestRegistryAddRemoveAndEvents(t *testing.T) {
	reg := NewRegistry(nil)
	sw := &fakeSwitch{fakeBase: newFakeBase(Switch, "child_lock")}
	h := &fakeHumidifier{fakeBase: newFakeBase(Humidifier, "dehumidifier"), mode: "manual"}

	var mu sync.Mutex
	var events []EventKind
	reg.AddListener(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Kind)
		mu.Unlock()
	})

	require.NoError(t, reg.Add("entry-1", sw, h))
	require.ErrorIs(t, reg.Add("entry-2", sw), ErrExists)
	require.Len(t, reg.List(), 2)
	require.Len(t, reg.ListEntry("entry-1"), 2)
	require.Len(t, reg.States(Switch), 1)

	sw.changed()

	removed := reg.RemoveEntry("entry-1")
	require.Equal(t, []string{"humidifier.deye_aabb_dehumidifier", "switch.deye_aabb_child_lock"}, removed)
	require.Empty(t, reg.List())

	// Unsubscribed on removal.
	sw.changed()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventKind{EventAdded, EventAdded, EventUpdated, EventRemoved, EventRemoved}, events)
}

func TestCallDispatch(t *testing.T) {
	reg := NewRegistry(nil)
	h := &fakeHumidifier{fakeBase: newFakeBase(Humidifier, "dehumidifier"), mode: "manual"}
	sw := &fakeSwitch{fakeBase: newFakeBase(Switch, "child_lock")}
	require.NoError(t, reg.Add("entry-1", h, sw))
	ctx := context.Background()

	require.NoError(t, reg.Call(ctx, h.EntityID(), ServiceTurnOn, nil))
	require.True(t, h.on)
	require.NoError(t, reg.Call(ctx, h.EntityID(), ServiceSetHumidity, map[string]any{"humidity": float64(40)}))
	require.Equal(t, 40, h.target)
	require.NoError(t, reg.Call(ctx, h.EntityID(), ServiceSetMode, map[string]any{"mode": "sleep"}))
	require.Equal(t, "sleep", h.mode)

	err := reg.Call(ctx, h.EntityID(), ServiceSetHumidity, map[string]any{})
	require.ErrorIs(t, err, ErrInvalidData)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, ServiceSetHumidity, cmdErr.Service)

	require.ErrorIs(t, reg.Call(ctx, sw.EntityID(), ServiceSetFanMode, nil), ErrUnsupported)
	require.ErrorIs(t, reg.Call(ctx, "switch.missing", ServiceTurnOn, nil), ErrNotFound)
}

func TestCallFailureIsIsolated(t *testing.T) {
	reg := NewRegistry(nil)
	broken := &fakeSwitch{fakeBase: newFakeBase(Switch, "anion"), err: errors.New("publish failed")}
	healthy := &fakeSwitch{fakeBase: newFakeBase(Switch, "child_lock")}
	require.NoError(t, reg.Add("entry-1", broken, healthy))

	err := reg.Call(context.Background(), broken.EntityID(), ServiceTurnOn, nil)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, broken.EntityID(), cmdErr.EntityID)
	require.Equal(t, codes.FailedPrecondition, status.Code(StatusError(err)))

	require.NoError(t, reg.Call(context.Background(), healthy.EntityID(), ServiceTurnOn, nil))
	require.True(t, healthy.on)
}

func TestCallRejectsUnavailable(t *testing.T) {
	reg := NewRegistry(nil)
	sw := &fakeSwitch{fakeBase: newFakeBase(Switch, "child_lock")}
	sw.available = false
	require.NoError(t, reg.Add("entry-1", sw))

	err := reg.Call(context.Background(), sw.EntityID(), ServiceTurnOn, nil)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.False(t, sw.on)
}

func TestStatusErrorCodes(t *testing.T) {
	require.Equal(t, codes.NotFound, status.Code(StatusError(ErrNotFound)))
	require.Equal(t, codes.Unimplemented, status.Code(StatusError(ErrUnsupported)))
	require.Equal(t, codes.InvalidArgument, status.Code(StatusError(&CommandError{Err: ErrInvalidData})))
	require.Equal(t, codes.Internal, status.Code(StatusError(errors.New("boom"))))
}
