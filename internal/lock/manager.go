package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Key scope prefixes.
const (
	ScopePlaylist = "playlist:"
	ScopeStudio   = "studio:"
)

// PlaylistKey returns the lock key for a playlist.
func PlaylistKey(playlistID string) string { return ScopePlaylist + playlistID }

// StudioKey returns the lock key for a studio.
func StudioKey(studioID string) string { return ScopeStudio + studioID }

type ownerKey struct{}

// WithOwner tags ctx with the identity of the component taking locks.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner stored by WithOwner, or "".
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// Logger is the logging surface used by Manager.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

type lockState int

const (
	stateHeld lockState = iota
	stateReleased
	stateRevoked
)

type entry struct {
	sem    *semaphore.Weighted
	refs   int // waiters plus holder
	holder *Lock
}

// Manager hands out exclusive locks by key.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	owned   map[string]map[string]*Lock // owner -> key -> lock
	logger  Logger
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		owned:   make(map[string]map[string]*Lock),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger used to report revoked locks.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// Lock is one held acquisition. Release is idempotent.
type Lock struct {
	m        *Manager
	key      string
	owner    string
	acquired time.Time
	state    lockState
	lost     chan struct{}
}

// Acquire blocks until key is free or ctx ends. The owner is taken from ctx.
func (m *Manager) Acquire(ctx context.Context, key string) (*Lock, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	owner := OwnerFrom(ctx)

	m.mu.Lock()
	if owner != "" && strings.HasPrefix(key, ScopeStudio) {
		for held := range m.owned[owner] {
			if strings.HasPrefix(held, ScopePlaylist) {
				m.mu.Unlock()
				return nil, fmt.Errorf("%w: %s holds %s", ErrLockOrder, owner, held)
			}
		}
	}
	e := m.entries[key]
	if e == nil {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.mu.Lock()
		m.dropRef(key, e)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %w", ErrAcquireCancelled, key, err)
	}

	l := &Lock{
		m:        m,
		key:      key,
		owner:    owner,
		acquired: time.Now(),
		lost:     make(chan struct{}),
	}

	m.mu.Lock()
	e.holder = l
	if owner != "" {
		if m.owned[owner] == nil {
			m.owned[owner] = make(map[string]*Lock)
		}
		m.owned[owner][key] = l
	}
	m.mu.Unlock()

	return l, nil
}

// ReleaseOwner revokes every lock held by owner and returns their keys.
// Revoked locks report Held() == false and their Lost channel is closed.
func (m *Manager) ReleaseOwner(owner string) []string {
	if owner == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key, l := range m.owned[owner] {
		m.releaseLocked(l, stateRevoked)
		keys = append(keys, key)
		m.logger.Warn("lock revoked", "key", key, "owner", owner, "held_for", time.Since(l.acquired))
	}
	return keys
}

// Len returns the number of keys currently held or awaited.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// releaseLocked must be called with m.mu held.
func (m *Manager) releaseLocked(l *Lock, to lockState) {
	if l.state != stateHeld {
		return
	}
	l.state = to
	if to == stateRevoked {
		close(l.lost)
	}

	if byKey := m.owned[l.owner]; byKey != nil && byKey[l.key] == l {
		delete(byKey, l.key)
		if len(byKey) == 0 {
			delete(m.owned, l.owner)
		}
	}

	e := m.entries[l.key]
	if e == nil || e.holder != l {
		return
	}
	e.holder = nil
	e.sem.Release(1)
	m.dropRef(l.key, e)
}

func (m *Manager) dropRef(key string, e *entry) {
	e.refs--
	if e.refs == 0 && m.entries[key] == e {
		delete(m.entries, key)
	}
}

// Key returns the locked key.
func (l *Lock) Key() string { return l.key }

// Owner returns the owner recorded at acquisition.
func (l *Lock) Owner() string { return l.owner }

// Release frees the lock. It is a no-op after a previous Release or a revoke.
func (l *Lock) Release() {
	l.m.mu.Lock()
	l.m.releaseLocked(l, stateReleased)
	l.m.mu.Unlock()
}

// Held reports whether the lock is still held by this acquisition.
func (l *Lock) Held() bool {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.state == stateHeld
}

// Lost is closed when the lock is revoked by ReleaseOwner.
func (l *Lock) Lost() <-chan struct{} {
	return l.lost
}
