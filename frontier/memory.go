package frontier

import (
	"context"
	"sync"
)

// Memory is an in-process Frontier.
type Memory struct {
	mu     sync.Mutex
	queue  []string
	seen   map[string]struct{}
	closed bool
}

var _ Frontier = (*Memory)(nil)

// NewMemory creates an empty in-process frontier.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Enqueue(ctx context.Context, urls ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	added := 0
	for _, url := range urls {
		if url == "" {
			continue
		}
		key := seenKey(url)
		if _, ok := m.seen[key]; ok {
			continue
		}
		m.seen[key] = struct{}{}
		m.queue = append(m.queue, url)
		added++
	}
	return added, nil
}

func (m *Memory) Next(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if len(m.queue) == 0 {
		return "", ErrEmpty
	}
	url := m.queue[0]
	m.queue[0] = ""
	m.queue = m.queue[1:]
	return url, nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.queue), nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.queue = nil
	m.seen = make(map[string]struct{})
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
	m.seen = nil
	return nil
}
