// Package session keeps one AppState per signed-in session. A session is
// identified by the sid claim of its token.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"eventpro/internal/common"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
	"eventpro/internal/state"
)

type ProfileSource interface {
	GetProfile(ctx context.Context, uid string) (model.User, error)
}

type EventLoader interface {
	Load(ctx context.Context, st *state.Store) ([]model.Event, error)
}

type TechnicianLoader interface {
	Load(ctx context.Context, st *state.Store) ([]model.Technician, error)
}

type entry struct {
	uid      string
	st       *state.Store
	lastSeen time.Time
}

// Manager owns the live sessions.
type Manager struct {
	profiles    ProfileSource
	events      EventLoader
	technicians TechnicianLoader
	ttl         time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
	// closed holds signed-out sids until their tokens would have expired.
	closed map[string]time.Time
	group    singleflight.Group
	now      func() time.Time
}

func NewManager(profiles ProfileSource, events EventLoader, technicians TechnicianLoader, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		profiles:    profiles,
		events:      events,
		technicians: technicians,
		ttl:         ttl,
		sessions:    map[string]*entry{},
		closed:      map[string]time.Time{},
		now:         time.Now,
	}
}

// Open starts a new session for uid and returns its id.
func (m *Manager) Open(ctx context.Context, uid string) (string, *state.Store, error) {
	sid := uuid.NewString()
	st, err := m.build(ctx, uid)
	if err != nil {
		return "", nil, err
	}
	m.put(sid, uid, st)
	appLog.Info("session opened", "sid", sid, "uid", uid)
	return sid, st, nil
}

// Get returns the state of session sid, rebuilding it when the process no
// longer holds it (for example after a restart).
func (m *Manager) Get(ctx context.Context, sid, uid string) (*state.Store, error) {
	if st, err := m.lookup(sid, uid); st != nil || err != nil {
		return st, err
	}

	v, err, _ := m.group.Do(sid, func() (any, error) {
		if st, err := m.lookup(sid, uid); st != nil || err != nil {
			return st, err
		}
		st, err := m.build(ctx, uid)
		if err != nil {
			return nil, err
		}
		m.put(sid, uid, st)
		appLog.Info("session restored", "sid", sid, "uid", uid)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*state.Store), nil
}

// Close resets and drops session sid. The sid cannot be restored
// afterwards. Unknown ids are ignored.
func (m *Manager) Close(sid string) {
	m.mu.Lock()
	e, ok := m.sessions[sid]
	delete(m.sessions, sid)
	m.closed[sid] = m.now()
	m.mu.Unlock()
	if !ok {
		return
	}
	e.st.Reset()
	appLog.Info("session closed", "sid", sid, "uid", e.uid)
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many
// were removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)
	var expired []*entry

	m.mu.Lock()
	for sid, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			delete(m.sessions, sid)
		}
	}
	for sid, at := range m.closed {
		if at.Before(cutoff) {
			delete(m.closed, sid)
		}
	}
	m.mu.Unlock()

	for _, e := range expired {
		e.st.Reset()
	}
	if len(expired) > 0 {
		appLog.Debug("sessions expired", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps expired sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) lookup(sid, uid string) (*state.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, gone := m.closed[sid]; gone {
		return nil, fmt.Errorf("session %s closed: %w", sid, common.ErrUnauthorized)
	}
	e, ok := m.sessions[sid]
	if !ok {
		return nil, nil
	}
	if e.uid != uid {
		return nil, fmt.Errorf("session %s: %w", sid, common.ErrUnauthorized)
	}
	e.lastSeen = m.now()
	return e.st, nil
}

func (m *Manager) put(sid, uid string, st *state.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sid] = &entry{uid: uid, st: st, lastSeen: m.now()}
}

// build loads the profile, events and roster of uid into a fresh state.
func (m *Manager) build(ctx context.Context, uid string) (*state.Store, error) {
	user, err := m.profiles.GetProfile(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", uid, err)
	}

	st := state.New()
	st.SetLoading(true)
	defer st.SetLoading(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := m.events.Load(gctx, st)
		return err
	})
	g.Go(func() error {
		_, err := m.technicians.Load(gctx, st)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st.SetCurrentUser(&user)
	return st, nil
}
