package store

import (
	"context"
	"sync"
)

// Memory is the default in-process store. Its content is lost when the process exits.
type Memory struct {
	mu    sync.RWMutex
	value string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, nil
}

func (m *Memory) Set(_ context.Context, value string) error {
	m.mu.Lock()
	m.value = value
	m.mu.Unlock()
	return nil
}
