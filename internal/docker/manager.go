package docker

import (
	"context"
	"log/slog"
	"sync"
)

// DialFunc builds an engine client. Tests swap in a fake.
type DialFunc func() (Client, error)

// Manager owns the process's single engine connection. Initialization is
// lazy and idempotent: the first caller dials and every other caller observes
// that outcome, success or failure, until an explicit Reset. The mutex guards
// only handle reads and replacement; pings and engine calls run outside it so
// a slow daemon cannot serialize unrelated operations.
type Manager struct {
	dial DialFunc

	mu      sync.Mutex
	client  Client
	state   ConnState
	lastErr *Error
}

// NewManager builds a manager around dial. No connection is attempted until
// the first EnsureConnected.
func NewManager(dial DialFunc) *Manager {
	return &Manager{dial: dial, state: StateUninitialized}
}

// EnsureConnected returns the live client handle, dialing on first use.
// A failed dial is recorded and returned unchanged to later callers, so a
// missing daemon is not re-dialed on every operation; Reset clears it.
func (m *Manager) EnsureConnected() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}
	if m.lastErr != nil {
		return nil, m.lastErr
	}
	return m.dialLocked()
}

// dialLocked runs the dial under the lock. Client construction performs no
// I/O, so concurrent callers block only for the duration of a constructor.
func (m *Manager) dialLocked() (Client, error) {
	c, err := m.dial()
	if err != nil {
		m.lastErr = Classify(err)
		m.state = StateError
		slog.Error("docker connect failed", "err", err)
		return nil, m.lastErr
	}
	m.client = c
	m.lastErr = nil
	m.state = StateConnected
	slog.Info("docker client initialized")
	return c, nil
}

// Status probes the engine with a ping against the current handle. A failed
// probe moves the state to Error and it stays there, without tearing down the
// handle, until an explicit Reset; a stuck daemon must not flap back to
// Connected on its own.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	c := m.client
	state := m.state
	lastErr := m.lastErr
	m.mu.Unlock()

	if c == nil {
		if lastErr != nil {
			return Status{State: StateError, Message: lastErr.Error()}
		}
		return Status{State: StateDisconnected}
	}
	if state == StateError {
		msg := ""
		if lastErr != nil {
			msg = lastErr.Error()
		}
		return Status{State: StateError, Message: msg}
	}

	err := c.Ping(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.state = StateError
		m.lastErr = Classify(err)
		return Status{State: StateError, Message: m.lastErr.Error()}
	}
	if m.state == StateError {
		// Something else failed while our ping was in flight; keep it.
		msg := ""
		if m.lastErr != nil {
			msg = m.lastErr.Error()
		}
		return Status{State: StateError, Message: msg}
	}
	m.state = StateConnected
	return Status{State: StateConnected}
}

// Reset discards the current handle unconditionally and dials fresh. Callers
// still holding the old handle will see their in-flight calls fail, which is
// the point of a reset.
func (m *Manager) Reset() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		if err := m.client.Close(); err != nil {
			slog.Debug("close stale docker client", "err", err)
		}
		m.client = nil
	}
	m.lastErr = nil
	m.state = StateUninitialized

	return m.dialLocked()
}

// State reports the last observed connection state without probing.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close releases the current handle, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	m.state = StateUninitialized
	return err
}
