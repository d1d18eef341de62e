// Package state holds the observable working set of one session: the
// signed-in user, the event list, the technician roster and UI flags.
//
// Every mutation goes through Set/SetMultiple and synchronously notifies the
// subscribers of the changed key. The store knows nothing about rendering or
// persistence.
package state

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	appLog "eventpro/internal/log"
	"eventpro/internal/model"
)

// Key names one slot of the store. The set of keys is closed.
type Key string

const (
	KeyCurrentUser   Key = "currentUser"
	KeyEvents        Key = "events"
	KeyTechnicians   Key = "technicians"
	KeyIsLoading     Key = "isLoading"
	KeyIsRegistering Key = "isRegistering"
	KeyCurrentView   Key = "currentView"
	KeyActiveModal   Key = "activeModal"
)

// Keys lists every key in a stable order.
var Keys = []Key{
	KeyCurrentUser,
	KeyEvents,
	KeyTechnicians,
	KeyIsLoading,
	KeyIsRegistering,
	KeyCurrentView,
	KeyActiveModal,
}

// DefaultCacheMaxAge is the freshness window used by Cached when maxAge <= 0.
const DefaultCacheMaxAge = 5 * time.Minute

// Subscriber is called with the new value, the previous value and the key.
type Subscriber func(newValue, oldValue any, key Key)

type listener struct {
	fn Subscriber
}

type cacheEntry struct {
	data      any
	updatedAt time.Time
}

// Store is the observable key-value store. The zero value is not usable;
// construct one with New.
type Store struct {
	mu        sync.Mutex
	values    map[Key]any
	listeners map[Key][]*listener
	cache     map[Key]cacheEntry
	now       func() time.Time
}

// New returns a store with every key at its default.
func New() *Store {
	return &Store{
		values:    defaults(),
		listeners: make(map[Key][]*listener),
		cache:     make(map[Key]cacheEntry),
		now:       time.Now,
	}
}

func defaults() map[Key]any {
	return map[Key]any{
		KeyCurrentUser:   (*model.User)(nil),
		KeyEvents:        []model.Event{},
		KeyTechnicians:   []model.Technician{},
		KeyIsLoading:     false,
		KeyIsRegistering: false,
		KeyCurrentView:   model.ViewHome,
		KeyActiveModal:   "",
	}
}

func known(key Key) bool {
	return slices.Contains(Keys, key)
}

// Get returns the current value of key, or its default if never set.
// Unknown keys yield nil.
func (s *Store) Get(key Key) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Set replaces the value of key and notifies its subscribers, even when the
// new value equals the old one.
func (s *Store) Set(key Key, value any) {
	if !known(key) {
		appLog.Warn("state: ignoring set of unknown key", "key", key)
		return
	}

	s.mu.Lock()
	old := s.values[key]
	s.values[key] = value
	s.touchCacheLocked(key, value)
	subs := s.snapshotLocked(key)
	s.mu.Unlock()

	s.notify(subs, key, value, old)
}

// update replaces the value of key with fn(old) in one critical section, so
// concurrent read-modify-write helpers cannot lose each other's changes. When
// fn reports false nothing is written and nobody is notified.
func (s *Store) update(key Key, fn func(old any) (any, bool)) bool {
	s.mu.Lock()
	old := s.values[key]
	value, ok := fn(old)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.values[key] = value
	s.touchCacheLocked(key, value)
	subs := s.snapshotLocked(key)
	s.mu.Unlock()

	s.notify(subs, key, value, old)
	return true
}

// SetMultiple applies every update as one step and then notifies per key.
// Subscribers see the whole batch applied when they call Get.
func (s *Store) SetMultiple(updates map[Key]any) {
	keys := make([]Key, 0, len(updates))
	for _, k := range Keys {
		if _, ok := updates[k]; ok {
			keys = append(keys, k)
		}
	}
	for k := range updates {
		if !known(k) {
			appLog.Warn("state: ignoring set of unknown key", "key", k)
		}
	}

	type pending struct {
		key      Key
		new, old any
		subs     []*listener
	}

	s.mu.Lock()
	batch := make([]pending, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, pending{key: k, new: updates[k], old: s.values[k]})
	}
	for _, p := range batch {
		s.values[p.key] = p.new
		s.touchCacheLocked(p.key, p.new)
	}
	for i := range batch {
		batch[i].subs = s.snapshotLocked(batch[i].key)
	}
	s.mu.Unlock()

	for _, p := range batch {
		s.notify(p.subs, p.key, p.new, p.old)
	}
}

// Subscribe registers fn for changes of key and returns its unsubscribe
// function. Unsubscribing more than once is a no-op.
func (s *Store) Subscribe(key Key, fn Subscriber) func() {
	l := &listener{fn: fn}

	s.mu.Lock()
	s.listeners[key] = append(s.listeners[key], l)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			ls := s.listeners[key]
			if i := slices.Index(ls, l); i >= 0 {
				// Build a fresh slice so in-flight snapshots keep their view.
				s.listeners[key] = slices.Delete(slices.Clone(ls), i, i+1)
			}
			if len(s.listeners[key]) == 0 {
				delete(s.listeners, key)
			}
		})
	}
}

// SubscribeMultiple registers fn for every key; the returned function
// unsubscribes all of them.
func (s *Store) SubscribeMultiple(keys []Key, fn Subscriber) func() {
	unsubs := make([]func(), 0, len(keys))
	for _, k := range keys {
		unsubs = append(unsubs, s.Subscribe(k, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *Store) snapshotLocked(key Key) []*listener {
	return slices.Clone(s.listeners[key])
}

func (s *Store) notify(subs []*listener, key Key, newValue, oldValue any) {
	for _, l := range subs {
		s.call(l, key, newValue, oldValue)
	}
}

func (s *Store) call(l *listener, key Key, newValue, oldValue any) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("state: subscriber panicked", fmt.Errorf("%v", r), "key", key)
		}
	}()
	l.fn(newValue, oldValue, key)
}

func (s *Store) touchCacheLocked(key Key, value any) {
	if key == KeyEvents || key == KeyTechnicians {
		s.cache[key] = cacheEntry{data: value, updatedAt: s.now()}
	}
}

// Cached returns the last events/technicians value if it was set less than
// maxAge ago.
func (s *Store) Cached(key Key, maxAge time.Duration) (any, bool) {
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[key]
	if !ok || s.now().Sub(c.updatedAt) >= maxAge {
		return nil, false
	}
	return c.data, true
}

// ClearCache drops the cache entry for key, or every entry when key is "".
func (s *Store) ClearCache(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		clear(s.cache)
		return
	}
	delete(s.cache, key)
}

// Reset restores every key to its default and clears the cache.
func (s *Store) Reset() {
	s.SetMultiple(defaults())
	s.ClearCache("")
}

// sortEvents returns a copy of events ordered ascending by start date.
// Equal start dates keep their relative order.
func sortEvents(events []model.Event) []model.Event {
	out := slices.Clone(events)
	if out == nil {
		out = []model.Event{}
	}
	slices.SortStableFunc(out, func(a, b model.Event) int {
		return cmp.Compare(a.StartDate.UnixNano(), b.StartDate.UnixNano())
	})
	return out
}
