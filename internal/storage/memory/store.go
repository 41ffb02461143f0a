// Package memory is an in-process EventStore and WebsiteDirectory used by
// tests and single-node local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/sitepulse/internal/domain"
)

var ErrDuplicate = errors.New("duplicate id")

type Store struct {
	mu sync.RWMutex

	websites map[string]domain.Website // by domain
	events   map[string]domain.Event   // by id
	bySite   map[string][]string       // website id -> event ids in insertion order
}

func NewStore() *Store {
	return &Store{
		websites: make(map[string]domain.Website),
		events:   make(map[string]domain.Event),
		bySite:   make(map[string][]string),
	}
}

func (s *Store) CreateWebsite(_ context.Context, w domain.Website) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(w.Domain))
	if key == "" || w.ID == "" {
		return fmt.Errorf("%w: website id and domain are required", domain.ErrValidation)
	}
	if _, exists := s.websites[key]; exists {
		return fmt.Errorf("website %s: %w", key, ErrDuplicate)
	}
	w.Domain = key
	s.websites[key] = w
	return nil
}

func (s *Store) WebsiteByDomain(_ context.Context, d string) (domain.Website, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.websites[strings.ToLower(strings.TrimSpace(d))]
	if !ok {
		return domain.Website{}, fmt.Errorf("%s: %w", d, domain.ErrNotFound)
	}
	return w, nil
}

func (s *Store) CreateEvent(_ context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" || ev.WebsiteID == "" {
		return fmt.Errorf("%w: event id and website id are required", domain.ErrValidation)
	}
	if _, exists := s.events[ev.ID]; exists {
		return fmt.Errorf("event %s: %w", ev.ID, ErrDuplicate)
	}
	s.insert(*ev)
	return nil
}

// CreateEvents skips ids that already exist, like ON CONFLICT DO NOTHING.
func (s *Store) CreateEvents(_ context.Context, evs []domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, ev := range evs {
		if ev.ID == "" || ev.WebsiteID == "" {
			continue
		}
		if _, exists := s.events[ev.ID]; exists {
			continue
		}
		s.insert(ev)
		n++
	}
	return n, nil
}

func (s *Store) insert(ev domain.Event) {
	s.events[ev.ID] = ev
	s.bySite[ev.WebsiteID] = append(s.bySite[ev.WebsiteID], ev.ID)
}

func (s *Store) ListEvents(_ context.Context, websiteID string, since time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySite[websiteID]
	out := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		ev := s.events[id]
		if !since.IsZero() && ev.CreatedAt.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Len returns the total number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) Ping(context.Context) error { return nil }
