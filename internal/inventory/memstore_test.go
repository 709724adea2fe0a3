package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// memStore is the in-memory Store used across the package tests.
type memStore struct {
	mu        sync.Mutex
	resources map[string]Resource
	products  map[string]Product
	ledger    []LedgerEntry

	ledgerErr error
	// casRejects makes the next N CompareAndSwap calls report a lost race.
	casRejects int
	casCalls   int
}

func newMemStore() *memStore {
	return &memStore{
		resources: map[string]Resource{},
		products:  map[string]Product{},
	}
}

func (s *memStore) addResource(r Resource) {
	if r.ControlStock == nil {
		r.ControlStock = ControlStock{}
	}
	s.resources[r.ID] = r
}

func (s *memStore) addProduct(p Product) {
	s.products[p.ID] = p
}

func (s *memStore) stock(resourceID, key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[resourceID].ControlStock[key].Stock
}

func copyResource(r Resource) *Resource {
	cs := make(ControlStock, len(r.ControlStock))
	for k, v := range r.ControlStock {
		cs[k] = v
	}
	raw, _ := json.Marshal(cs)
	out := r
	out.ControlStock = cs
	out.RawControlStock = raw
	return &out
}

func (s *memStore) GetResource(_ context.Context, id string) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return copyResource(r), nil
}

func (s *memStore) GetResourceByCode(_ context.Context, code string) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.resources {
		if strings.EqualFold(r.Code, code) {
			return copyResource(r), nil
		}
	}
	return nil, ErrResourceNotFound
}

func (s *memStore) GetResourceByName(_ context.Context, name string) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.resources {
		if strings.EqualFold(strings.TrimSpace(r.Name), strings.TrimSpace(name)) {
			return copyResource(r), nil
		}
	}
	return nil, ErrResourceNotFound
}

func (s *memStore) ListResources(_ context.Context) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, *copyResource(r))
	}
	return out, nil
}

func (s *memStore) UpdateControlStock(_ context.Context, resourceID string, cs ControlStock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[resourceID]
	if !ok {
		return ErrResourceNotFound
	}
	r.ControlStock = cs
	s.resources[resourceID] = r
	return nil
}

func (s *memStore) CompareAndSwapControlStock(_ context.Context, resourceID string, _ json.RawMessage, next ControlStock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casCalls++
	if s.casRejects > 0 {
		s.casRejects--
		return false, nil
	}
	r, ok := s.resources[resourceID]
	if !ok {
		return false, ErrResourceNotFound
	}
	r.ControlStock = next
	s.resources[resourceID] = r
	return true, nil
}

func (s *memStore) GetProduct(_ context.Context, id string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (s *memStore) GetProductByCode(_ context.Context, code string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Code == code {
			out := p
			return &out, nil
		}
	}
	return nil, ErrProductNotFound
}

func (s *memStore) GetProductByName(_ context.Context, name string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Name == name {
			out := p
			return &out, nil
		}
	}
	return nil, ErrProductNotFound
}

func (s *memStore) InsertLedgerEntry(_ context.Context, entry LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgerErr != nil {
		return s.ledgerErr
	}
	entry.ID = int64(len(s.ledger) + 1)
	s.ledger = append(s.ledger, entry)
	return nil
}

func (s *memStore) ListLedger(_ context.Context, filter LedgerFilter) ([]LedgerEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []LedgerEntry
	for _, e := range s.ledger {
		if filter.ItemID != "" && e.ItemID != filter.ItemID {
			continue
		}
		if filter.Branch != "" && e.Branch != filter.Branch {
			continue
		}
		if filter.Origin != "" && e.Origin != filter.Origin {
			continue
		}
		matched = append(matched, e)
	}
	// Newest first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, len(matched), nil
}

var errStoreDown = errors.New("store down")

var _ Store = (*memStore)(nil)
