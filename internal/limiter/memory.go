package limiter

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// Memory is a process-local limiter for single-instance and dev servers.
type Memory struct {
	mu     sync.Mutex
	policy Policy
	now    func() time.Time
	rows   map[string]*counter
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p.normalize(), now: time.Now, rows: make(map[string]*counter)}
}

func key(username string, ipHash []byte) string { return username + "\x00" + string(ipHash) }

func (m *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[key(username, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); c.blockedUntil.After(now) {
		return false, c.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, key(username, ipHash))
	return nil
}

func (m *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := key(username, ipHash)
	c, ok := m.rows[k]
	if !ok || now.Sub(c.updatedAt) > m.policy.Window {
		c = &counter{}
		m.rows[k] = c
	}
	c.fails++
	c.updatedAt = now
	if c.fails < m.policy.MaxFails {
		return false, 0, nil
	}
	c.blockedUntil = now.Add(m.policy.BlockFor)
	return true, m.policy.BlockFor, nil
}
