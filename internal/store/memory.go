package store

import (
	"context"

	"github.com/maypok86/otter/v2"
)

// maxMemoryFields bounds the in-memory store. The proxy only writes a handful
// of fields, so eviction never happens in practice.
const maxMemoryFields = 1_000

// Memory is an in-memory store implementation using otter. It does not
// survive a restart, so it suits tests and single-run deployments.
type Memory struct {
	cache *otter.Cache[string, string]
}

// NewMemory creates a new empty in-memory store.
func NewMemory() *Memory {
	cache := otter.Must(&otter.Options[string, string]{
		MaximumSize: maxMemoryFields,
	})

	return &Memory{cache: cache}
}

func (m *Memory) GetField(_ context.Context, key string) (string, bool, error) {
	value, ok := m.cache.GetIfPresent(key)
	return value, ok, nil
}

func (m *Memory) SetField(_ context.Context, key, value string) error {
	m.cache.Set(key, value)
	return nil
}

func (m *Memory) ClearAll(_ context.Context) error {
	m.cache.InvalidateAll()
	return nil
}

func (m *Memory) Close() error {
	return nil
}
