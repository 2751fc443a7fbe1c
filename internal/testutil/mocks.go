package testutil

import (
	"context"
	"sync"
)

// MockProber is an in-memory reachability probe with a switchable answer.
type MockProber struct {
	mu     sync.Mutex
	online bool
	calls  int
	binds  []string
}

// NewMockProber creates a MockProber answering online.
func NewMockProber(online bool) *MockProber {
	return &MockProber{online: online}
}

// Reachable records the call and returns the current answer.
func (m *MockProber) Reachable(_ context.Context, bindIP string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.binds = append(m.binds, bindIP)
	return m.online
}

// SetOnline changes the answer for subsequent calls.
func (m *MockProber) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
}

// Calls returns how many times Reachable was called.
func (m *MockProber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// BindIPs returns the bind addresses passed to Reachable, in call order.
func (m *MockProber) BindIPs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.binds...)
}
