package server

import (
	"context"
	"fmt"

	"github.com/pilab-dev/mcp-oauth/cache"
	cacheredis "github.com/pilab-dev/mcp-oauth/cache/redis"
	"github.com/pilab-dev/mcp-oauth/config"
	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/pilab-dev/mcp-oauth/mongodb"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Stores bundles the storage backends selected by STORE_DRIVER.
type Stores struct {
	Clients        domain.ClientStore
	Authorizations domain.AuthorizationStore

	closers []func(ctx context.Context) error
	ping    func(ctx context.Context) error
}

// Ping reports whether the backend is reachable.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}

	return s.ping(ctx)
}

// Close releases every backend connection.
func (s *Stores) Close(ctx context.Context) error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// OpenStores connects the configured storage driver.
func OpenStores(ctx context.Context, cfg *config.ServerConfig) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		authz := cache.NewMemoryAuthorizationStore()

		return &Stores{
			Clients:        cache.NewMemoryClientStore(),
			Authorizations: authz,
			closers:        []func(context.Context) error{func(context.Context) error { return authz.Close() }},
		}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
		}

		log.Info().Str("addr", cfg.RedisAddr).Str("prefix", cfg.RedisPrefix).Msg("connected to Redis")

		return &Stores{
			Clients:        cacheredis.NewClientStore(client, cfg.RedisPrefix),
			Authorizations: cacheredis.NewAuthorizationStore(client, cfg.RedisPrefix),
			closers:        []func(context.Context) error{func(context.Context) error { return client.Close() }},
			ping:           func(ctx context.Context) error { return client.Ping(ctx).Err() },
		}, nil

	case config.StoreMongoDB:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		closeMongo := func(ctx context.Context) error {
			mongodb.Close(ctx, client)
			return nil
		}

		db := client.Database(cfg.MongoDBName)

		clients, err := mongodb.NewClientRepository(ctx, db)
		if err != nil {
			_ = closeMongo(ctx)
			return nil, err
		}

		authz, err := mongodb.NewAuthorizationRepository(ctx, db)
		if err != nil {
			_ = closeMongo(ctx)
			return nil, err
		}

		return &Stores{
			Clients:        clients,
			Authorizations: authz,
			closers:        []func(context.Context) error{closeMongo},
			ping:           func(ctx context.Context) error { return mongodb.Ping(ctx, client) },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
