// Package mock provides a scriptable CacheLayer for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"ledger-service/pkg/cache"
)

type op int

const (
	opGet op = iota
	opSet
	opDelete
	opDeletePrefix
	opClose
	opCount
)

// MockLayer behaves like an empty cache unless a hook overrides a method.
// It counts calls and remembers the keys and prefixes it was asked to drop.
type MockLayer struct {
	GetFunc          func(ctx context.Context, key string) ([]byte, error)
	SetFunc          func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteFunc       func(ctx context.Context, key string) error
	DeletePrefixFunc func(ctx context.Context, prefix string) error
	CloseFunc        func() error

	name string

	mu       sync.Mutex
	calls    [opCount]int
	deleted  []string
	prefixes []string
}

// NewMockLayer returns a layer whose Get always misses and whose writes
// succeed.
func NewMockLayer(name string) *MockLayer {
	return &MockLayer{name: name}
}

func (m *MockLayer) record(o op, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[o]++
	switch o {
	case opDelete:
		m.deleted = append(m.deleted, key)
	case opDeletePrefix:
		m.prefixes = append(m.prefixes, key)
	}
}

func (m *MockLayer) count(o op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[o]
}

func (m *MockLayer) Get(ctx context.Context, key string) ([]byte, error) {
	m.record(opGet, key)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, cache.ErrKeyNotFound
}

func (m *MockLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.record(opSet, key)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	return nil
}

func (m *MockLayer) Delete(ctx context.Context, key string) error {
	m.record(opDelete, key)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

func (m *MockLayer) DeletePrefix(ctx context.Context, prefix string) error {
	m.record(opDeletePrefix, prefix)
	if m.DeletePrefixFunc != nil {
		return m.DeletePrefixFunc(ctx, prefix)
	}
	return nil
}

func (m *MockLayer) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *MockLayer) Close() error {
	m.record(opClose, "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockLayer) GetCalls() int          { return m.count(opGet) }
func (m *MockLayer) SetCalls() int          { return m.count(opSet) }
func (m *MockLayer) DeleteCalls() int       { return m.count(opDelete) }
func (m *MockLayer) DeletePrefixCalls() int { return m.count(opDeletePrefix) }
func (m *MockLayer) CloseCalls() int        { return m.count(opClose) }

// Deleted returns the keys passed to Delete, in call order.
func (m *MockLayer) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Prefixes returns the prefixes passed to DeletePrefix, in call order.
func (m *MockLayer) Prefixes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prefixes...)
}
