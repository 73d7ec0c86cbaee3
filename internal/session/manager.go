package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/browsercloud/internal/endpoint"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

// ErrNotFound covers both unknown and stopped sessions: a stopped session is
// invisible to lookups and cannot host new tasks.
var ErrNotFound = errors.New("session not found or inactive")

type Session struct {
	ID                string     `json:"id"`
	EndpointID        string     `json:"endpointId"`
	ConnectionAddress string     `json:"-"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	StoppedAt         *time.Time `json:"stoppedAt,omitempty"`
}

// EndpointSource is the slice of the endpoint pool a Manager needs.
type EndpointSource interface {
	PickNext() (endpoint.Endpoint, error)
	Resolve(id string) (endpoint.Endpoint, error)
}

type Manager struct {
	mu       sync.RWMutex
	pool     EndpointSource
	sessions map[string]*Session
	onStop   func(*Session)
}

func NewManager(pool EndpointSource) *Manager {
	return &Manager{
		pool:     pool,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) SetStopHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStop = hook
}

// Create binds a new session to preferredEndpointID when given, otherwise to
// the next endpoint in rotation.
func (m *Manager) Create(preferredEndpointID string) (*Session, error) {
	var (
		ep  endpoint.Endpoint
		err error
	)
	if id := strings.TrimSpace(preferredEndpointID); id != "" {
		ep, err = m.pool.Resolve(id)
	} else {
		ep, err = m.pool.PickNext()
	}
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:                uuid.NewString(),
		EndpointID:        ep.ID,
		ConnectionAddress: ep.Address,
		Status:            StatusActive,
		CreatedAt:         time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[strings.TrimSpace(sessionID)]
	if !ok || s.Status != StatusActive {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Stop(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[strings.TrimSpace(sessionID)]
	if !ok || s.Status != StatusActive {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	s.Status = StatusStopped
	s.StoppedAt = &now
	out := clone(s)
	hook := m.onStop
	m.mu.Unlock()

	if hook != nil {
		hook(clone(out))
	}
	return out, nil
}

// List returns every session, stopped ones included, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, clone(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// Origin tells whether a resolved session already existed or was created for
// the caller.
type Origin string

const (
	OriginExisting Origin = "existing"
	OriginCreated  Origin = "created"
)

type Resolution struct {
	Session *Session
	Origin  Origin
}

// Resolve fetches the active session sessionID, or allocates a fresh one from
// the pool when sessionID is empty.
func (m *Manager) Resolve(sessionID string) (Resolution, error) {
	if id := strings.TrimSpace(sessionID); id != "" {
		s, err := m.Get(id)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Session: s, Origin: OriginExisting}, nil
	}
	s, err := m.Create("")
	if err != nil {
		return Resolution{}, fmt.Errorf("allocate session: %w", err)
	}
	return Resolution{Session: s, Origin: OriginCreated}, nil
}

func clone(s *Session) *Session {
	c := *s
	if s.StoppedAt != nil {
		t := *s.StoppedAt
		c.StoppedAt = &t
	}
	return &c
}
