package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/redis/go-redis/v9"
)

// encodeClient serializes a client including its secret hash, which
// domain.Client keeps out of JSON.
//
//nolint:tagliatelle
func encodeClient(c *domain.Client) ([]byte, error) {
	type alias domain.Client

	payload, err := json.Marshal(struct {
		*alias

		SecretHash string `json:"client_secret_hash"`
	}{alias: (*alias)(c), SecretHash: c.SecretHash})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client: %w", err)
	}

	return payload, nil
}

//nolint:tagliatelle
func decodeClient(payload []byte) (*domain.Client, error) {
	type alias domain.Client

	var raw struct {
		alias

		SecretHash string `json:"client_secret_hash"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	client := domain.Client(raw.alias)
	client.SecretHash = raw.SecretHash

	return &client, nil
}

// ClientStore implements domain.ClientStore on Redis.
//
// Layout, under prefix:
//
//	client:{id}   JSON client
//	clients       set of client IDs
type ClientStore struct {
	client redis.UniversalClient
	prefix string
}

// NewClientStore creates a new Redis backed client store.
func NewClientStore(client redis.UniversalClient, prefix string) *ClientStore {
	return &ClientStore{client: client, prefix: prefix}
}

func (s *ClientStore) clientKey(id string) string {
	return fmt.Sprintf("%s:client:%s", s.prefix, id)
}

func (s *ClientStore) setKey() string {
	return s.prefix + ":clients"
}

// GetClient implements domain.ClientRegistry.
func (s *ClientStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	payload, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}

		return nil, fmt.Errorf("failed to get client from Redis: %w", err)
	}

	return decodeClient(payload)
}

// CreateClient implements domain.ClientStore.
func (s *ClientStore) CreateClient(ctx context.Context, client *domain.Client) error {
	payload, err := encodeClient(client)
	if err != nil {
		return err
	}

	created, err := s.client.SetNX(ctx, s.clientKey(client.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create client in Redis: %w", err)
	}
	if !created {
		return domain.ErrAlreadyExists
	}

	if err := s.client.SAdd(ctx, s.setKey(), client.ID).Err(); err != nil {
		return fmt.Errorf("failed to index client in Redis: %w", err)
	}

	return nil
}

// ListClients implements domain.ClientStore. Clients are ordered by creation.
func (s *ClientStore) ListClients(ctx context.Context) ([]*domain.Client, error) {
	ids, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients from Redis: %w", err)
	}

	clients := make([]*domain.Client, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetClient(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}

	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ID < clients[j].ID
		}

		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})

	return clients, nil
}

// UpdateClient implements domain.ClientStore with an optimistic transaction
// on the client key.
func (s *ClientStore) UpdateClient(ctx context.Context, clientID string, update domain.ClientUpdate) (*domain.Client, error) {
	key := s.clientKey(clientID)

	var updated *domain.Client
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrNotFound
			}

			return err
		}

		c, err := decodeClient(payload)
		if err != nil {
			return err
		}
		update.Apply(c, time.Now().UTC())

		next, err := encodeClient(c)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}

		updated = c

		return nil
	}, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to update client in Redis: %w", err)
	}

	return updated, nil
}

// DeleteClient implements domain.ClientStore.
func (s *ClientStore) DeleteClient(ctx context.Context, clientID string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.clientKey(clientID))
		pipe.SRem(ctx, s.setKey(), clientID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete client from Redis: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

var _ domain.ClientStore = (*ClientStore)(nil)
