package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

type UnitStore struct {
	mu    sync.RWMutex
	units map[id.TokenID]*unit.Unit
}

func NewUnitStore() *UnitStore {
	return &UnitStore{units: make(map[id.TokenID]*unit.Unit)}
}

func (s *UnitStore) FindByID(_ context.Context, token id.TokenID) (*unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[token]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", token, sentinel.ErrNotFound)
	}
	return clone(u)
}

func (s *UnitStore) FindByIDs(_ context.Context, tokens []id.TokenID) ([]*unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[id.TokenID]struct{}, len(tokens))
	var out []*unit.Unit
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if u, ok := s.units[t]; ok {
			out = append(out, u)
		}
	}
	return cloneAll(out)
}

func (s *UnitStore) FindBySerial(_ context.Context, serial string) (*unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.units {
		if u.Serial == serial {
			return clone(u)
		}
	}
	return nil, fmt.Errorf("unit serial %s: %w", serial, sentinel.ErrNotFound)
}

func (s *UnitStore) FindByBatch(_ context.Context, batch shared.BatchNumber) ([]*unit.Unit, error) {
	return s.filter(func(u *unit.Unit) bool { return u.Batch == batch })
}

func (s *UnitStore) FindByHolder(_ context.Context, holder id.PartyID) ([]*unit.Unit, error) {
	return s.filter(func(u *unit.Unit) bool { return u.Holder == holder })
}

func (s *UnitStore) FindExpiringBefore(_ context.Context, t time.Time) ([]*unit.Unit, error) {
	return s.filter(func(u *unit.Unit) bool {
		return !u.Status.IsTerminal() && !u.ExpiresAt.IsZero() && u.ExpiresAt.Before(t)
	})
}

func (s *UnitStore) filter(match func(*unit.Unit) bool) ([]*unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*unit.Unit
	for _, u := range s.units {
		if match(u) {
			out = append(out, u)
		}
	}
	out, err := cloneAll(out)
	if err != nil {
		return nil, err
	}
	return sortedByKey(out, func(u *unit.Unit) string { return u.TokenID.String() }), nil
}

func (s *UnitStore) Save(_ context.Context, u *unit.Unit) error {
	c, err := clone(u)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.TokenID] = c
	return nil
}

// SaveMany copies every unit before taking the lock so a bad document
// leaves the store untouched.
func (s *UnitStore) SaveMany(_ context.Context, units []*unit.Unit) error {
	copies, err := cloneAll(units)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range copies {
		s.units[c.TokenID] = c
	}
	return nil
}

func (s *UnitStore) CreateMany(_ context.Context, units []*unit.Unit) error {
	copies, err := cloneAll(units)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var taken []string
	for _, c := range copies {
		if _, ok := s.units[c.TokenID]; ok {
			taken = append(taken, c.TokenID.String())
		}
	}
	if len(taken) > 0 {
		return fmt.Errorf("units %s: %w", strings.Join(taken, ", "), sentinel.ErrConflict)
	}
	for _, c := range copies {
		s.units[c.TokenID] = c
	}
	return nil
}
