package entity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/deyehome/internal/logging"
)

// EventKind classifies registry events.
type EventKind int

const (
	EventAdded EventKind = iota
	EventUpdated
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is delivered to registry listeners.
type Event struct {
	Kind   EventKind
	Entity Entity
	State  State
}

type registered struct {
	entity      Entity
	entryID     string
	unsubscribe func()
}

// Registry holds every loaded entity, keyed by entity id.
type Registry struct {
	log *logrus.Entry

	mu        sync.RWMutex
	entities  map[string]*registered
	listeners map[uint64]func(Event)
	nextID    uint64
}

func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logging.Component(nil, "entity")
	}
	return &Registry{
		log:       log,
		entities:  make(map[string]*registered),
		listeners: make(map[uint64]func(Event)),
	}
}

// Add registers entities owned by a config entry. Nothing is added when any
// id collides.
func (r *Registry) Add(entryID string, entities ...Entity) error {
	r.mu.Lock()
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		id := e.EntityID()
		if _, ok := r.entities[id]; ok || seen[id] {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrExists, id)
		}
		seen[id] = true
	}
	for _, e := range entities {
		r.entities[e.EntityID()] = &registered{entity: e, entryID: entryID}
	}
	r.mu.Unlock()

	for _, e := range entities {
		e := e
		unsubscribe := e.Subscribe(func() {
			r.emit(Event{Kind: EventUpdated, Entity: e, State: Render(e)})
		})
		r.mu.Lock()
		if reg, ok := r.entities[e.EntityID()]; ok && reg.entity == e {
			reg.unsubscribe = unsubscribe
			r.mu.Unlock()
		} else {
			r.mu.Unlock()
			unsubscribe()
			continue
		}
		r.emit(Event{Kind: EventAdded, Entity: e, State: Render(e)})
	}

	r.log.WithFields(logrus.Fields{"entry_id": entryID, "count": len(entities)}).Debug("entities added")
	return nil
}

// RemoveEntry drops all entities owned by the entry and returns their ids.
func (r *Registry) RemoveEntry(entryID string) []string {
	r.mu.Lock()
	var removed []*registered
	for id, reg := range r.entities {
		if reg.entryID == entryID {
			removed = append(removed, reg)
			delete(r.entities, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(removed))
	for _, reg := range removed {
		if reg.unsubscribe != nil {
			reg.unsubscribe()
		}
		ids = append(ids, reg.entity.EntityID())
		r.emit(Event{Kind: EventRemoved, Entity: reg.entity, State: Render(reg.entity)})
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Get(entityID string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entities[entityID]
	if !ok {
		return nil, false
	}
	return reg.entity, true
}

// List returns entities sorted by entity id.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	out := make([]Entity, 0, len(r.entities))
	for _, reg := range r.entities {
		out = append(out, reg.entity)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

// ListEntry returns the entities owned by one config entry.
func (r *Registry) ListEntry(entryID string) []Entity {
	var out []Entity
	for _, e := range r.List() {
		if r.owner(e.EntityID()) == entryID {
			out = append(out, e)
		}
	}
	return out
}

func (r *Registry) owner(entityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.entities[entityID]; ok {
		return reg.entryID
	}
	return ""
}

// States renders every entity, optionally filtered by platform.
func (r *Registry) States(platform Platform) []State {
	entities := r.List()
	out := make([]State, 0, len(entities))
	for _, e := range entities {
		if platform != "" && e.Platform() != platform {
			continue
		}
		out = append(out, Render(e))
	}
	return out
}

func (r *Registry) State(entityID string) (State, error) {
	e, ok := r.Get(entityID)
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	return Render(e), nil
}

// AddListener subscribes to added, updated and removed events.
func (r *Registry) AddListener(fn func(Event)) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Registry) emit(event Event) {
	r.mu.RLock()
	fns := make([]func(Event), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
