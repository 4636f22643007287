package oracle

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/domain"
)

// MemoryStore keeps sealed values in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[domain.Handle]domain.SealedValue
	acl    map[domain.Handle]map[common.Address]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[domain.Handle]domain.SealedValue),
		acl:    make(map[domain.Handle]map[common.Address]struct{}),
	}
}

func (s *MemoryStore) PutValue(_ context.Context, v domain.SealedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[v.Handle]; ok {
		return domain.ErrAlreadyExists
	}
	v.Ciphertext = append([]byte(nil), v.Ciphertext...)
	s.values[v.Handle] = v
	return nil
}

func (s *MemoryStore) GetValue(_ context.Context, h domain.Handle) (domain.SealedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[h]
	if !ok {
		return domain.SealedValue{}, domain.ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Grant(_ context.Context, h domain.Handle, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[h]; !ok {
		return domain.ErrNotFound
	}
	set, ok := s.acl[h]
	if !ok {
		set = make(map[common.Address]struct{})
		s.acl[h] = set
	}
	set[addr] = struct{}{}
	return nil
}

func (s *MemoryStore) HasAccess(_ context.Context, h domain.Handle, addr common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.acl[h][addr]
	return ok, nil
}
