package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBindingStore keeps bindings in process memory. Soft-deleted rows are
// retained, mirroring the SQL store.
type MemoryBindingStore struct {
	mu      sync.RWMutex
	records map[string]Binding
	order   []string
}

func NewMemoryBindingStore() *MemoryBindingStore {
	return &MemoryBindingStore{records: map[string]Binding{}}
}

func (s *MemoryBindingStore) GetByPrincipal(_ context.Context, principal string) (Binding, bool, error) {
	principal = strings.TrimSpace(principal)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		record := s.records[s.order[i]]
		if record.Principal == principal && record.Active {
			return record.Clone(), true, nil
		}
	}
	return Binding{}, false, nil
}

func (s *MemoryBindingStore) GetByExternalID(_ context.Context, externalID int64) (Binding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		record := s.records[s.order[i]]
		if record.Account.ExternalID == externalID && record.Active {
			return record.Clone(), true, nil
		}
	}
	return Binding{}, false, nil
}

func (s *MemoryBindingStore) Put(_ context.Context, binding Binding) (Binding, error) {
	binding.Principal = strings.TrimSpace(binding.Principal)
	if binding.Principal == "" {
		return Binding{}, NewValidationError(ErrorCodeBadInput, "core: binding principal is required")
	}
	if strings.TrimSpace(binding.ID) == "" {
		return Binding{}, NewValidationError(ErrorCodeBadInput, "core: binding id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if binding.Active {
		for id, record := range s.records {
			if id == binding.ID || !record.Active {
				continue
			}
			if record.Principal == binding.Principal {
				return Binding{}, NewConflictError(ErrAlreadyBound, ErrorCodeAlreadyBound, "core: principal already has an active binding", map[string]any{
					"principal_id": binding.Principal,
				})
			}
			if record.Account.ExternalID == binding.Account.ExternalID {
				return Binding{}, NewConflictError(ErrAccountOccupied, ErrorCodeAccountOccupied, "core: external account is bound to another principal", map[string]any{
					"external_id": binding.Account.ExternalID,
				})
			}
		}
	}
	if _, exists := s.records[binding.ID]; !exists {
		s.order = append(s.order, binding.ID)
	}
	stored := binding.Clone()
	s.records[binding.ID] = stored
	return stored.Clone(), nil
}

func (s *MemoryBindingStore) Delete(_ context.Context, principal string) (bool, error) {
	principal = strings.TrimSpace(principal)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	now := time.Now().UTC()
	for id, record := range s.records {
		if record.Principal != principal || !record.Active {
			continue
		}
		record.Active = false
		record.UpdatedAt = now
		s.records[id] = record
		removed = true
	}
	return removed, nil
}

func (s *MemoryBindingStore) ListActive(_ context.Context) ([]Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Binding, 0, len(s.records))
	for _, id := range s.order {
		record := s.records[id]
		if record.Active {
			out = append(out, record.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// All returns every record including soft-deleted ones.
func (s *MemoryBindingStore) All() []Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Binding, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}
