package notify

import (
	"context"
	"sync"
)

// Records notices in memory, for use in tests
type MockNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (m *MockNotifier) Notify(ctx context.Context, n Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
	return nil
}

func (m *MockNotifier) Notices() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notice, len(m.notices))
	copy(out, m.notices)
	return out
}

// Notices of the given kind
func (m *MockNotifier) OfKind(k Kind) []Notice {
	out := []Notice{}
	for _, n := range m.Notices() {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}
