package memory

import (
	"context"
	"strings"
	"sync"

	"hotlympics/core"
)

// Store is a concurrent in-memory Storage implementation. With a quota set it
// rejects writes that would grow the stored bytes past it, the way browser
// storage throws once full.
type Store struct {
	mu    sync.RWMutex
	data  map[string][]byte
	size  int
	quota int
}

// Option configures a Store.
type Option func(*Store)

// WithQuota caps the total bytes of keys plus values. Zero means unlimited.
func WithQuota(bytes int) Option { return func(s *Store) { s.quota = bytes } }

func New(opts ...Option) *Store {
	s := &Store{data: map[string][]byte{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.size + len(key) + len(value)
	if old, ok := s.data[key]; ok {
		next -= len(key) + len(old)
	}
	if s.quota > 0 && next > s.quota {
		return core.ErrQuotaExceeded
	}
	s.data[key] = append([]byte(nil), value...)
	s.size = next
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		s.size -= len(key) + len(old)
		delete(s.data, key)
	}
	return nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ interface {
	Get(context.Context, string) ([]byte, error)
	Set(context.Context, string, []byte) error
	Delete(context.Context, string) error
	Keys(context.Context, string) ([]string, error)
} = (*Store)(nil)
