package cache

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pilab-dev/mcp-oauth/domain"
)

// MemoryClientStore implements domain.ClientStore in process memory.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

// NewMemoryClientStore creates an empty client store.
func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]*domain.Client)}
}

func cloneClient(c *domain.Client) *domain.Client {
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.AllowedScopes = slices.Clone(c.AllowedScopes)

	return &cp
}

// GetClient implements domain.ClientRegistry.
func (s *MemoryClientStore) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cloneClient(c), nil
}

// CreateClient implements domain.ClientStore.
func (s *MemoryClientStore) CreateClient(_ context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; ok {
		return domain.ErrAlreadyExists
	}

	s.clients[client.ID] = cloneClient(client)

	return nil
}

// ListClients implements domain.ClientStore. Clients are ordered by creation.
func (s *MemoryClientStore) ListClients(_ context.Context) ([]*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, cloneClient(c))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// UpdateClient implements domain.ClientStore.
func (s *MemoryClientStore) UpdateClient(_ context.Context, clientID string, update domain.ClientUpdate) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	update.Apply(c, time.Now().UTC())

	return cloneClient(c), nil
}

// DeleteClient implements domain.ClientStore.
func (s *MemoryClientStore) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return domain.ErrNotFound
	}

	delete(s.clients, clientID)

	return nil
}

var _ domain.ClientStore = (*MemoryClientStore)(nil)
