package cache

import (
	"context"
	"sync"
	"time"

	"creatorpulse/internal/domain"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
	token     uint64
}

// Memory — кэш и блокировка в памяти процесса. Используется без Redis и в тестах.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	seq   uint64
	now   func() time.Time
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem), now: time.Now}
}

func (m *Memory) alive(key string, now time.Time) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

// Set задаёт значение.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

// Get возвращает значение или domain.ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.alive(key, m.now())
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// Acquire занимает ключ, если он свободен или истёк.
func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, ok := m.alive("lease:"+key, now); ok {
		return nil, false, nil
	}
	m.seq++
	item := memoryItem{value: []byte{1}, token: m.seq}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	m.items["lease:"+key] = item
	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if current, ok := m.items["lease:"+key]; ok && current.token == item.token {
				delete(m.items, "lease:"+key)
			}
		})
	}
	return release, true, nil
}

var (
	_ domain.Cache    = (*Memory)(nil)
	_ domain.JobLease = (*Memory)(nil)
)
