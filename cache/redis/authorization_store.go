package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// addToSession adds a record to a refresh-token session and extends the
// session key's lifetime to cover the new member.
var addToSession = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
local want = tonumber(ARGV[3])
if redis.call('PTTL', KEYS[1]) < want then
	redis.call('PEXPIRE', KEYS[1], want)
end
return 1
`)

// AuthorizationStore implements domain.AuthorizationStore on Redis.
//
// Layout, under prefix:
//
//	authz:{id}                JSON record, EXPIREAT expires_at
//	authz:code:{code}         record ID
//	authz:access:{token}      record ID
//	authz:refresh:{token}     sorted set of record IDs scored by created_at
type AuthorizationStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewAuthorizationStore creates a new Redis backed authorization store.
func NewAuthorizationStore(client redis.UniversalClient, prefix string) *AuthorizationStore {
	return &AuthorizationStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *AuthorizationStore) recordKey(id string) string {
	return fmt.Sprintf("%s:authz:%s", s.prefix, id)
}

func (s *AuthorizationStore) indexKey(index domain.LookupIndex, value string) string {
	switch index {
	case domain.IndexCode:
		return fmt.Sprintf("%s:authz:code:%s", s.prefix, value)
	case domain.IndexAccessToken:
		return fmt.Sprintf("%s:authz:access:%s", s.prefix, value)
	default:
		return fmt.Sprintf("%s:authz:refresh:%s", s.prefix, value)
	}
}

// SaveAuthorization implements domain.AuthorizationStore.
func (s *AuthorizationStore) SaveAuthorization(ctx context.Context, record *domain.AuthorizationRecord) error {
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(record.ID), payload, 0)
		pipe.ExpireAt(ctx, s.recordKey(record.ID), record.ExpiresAt)

		if record.Code != "" {
			pipe.Set(ctx, s.indexKey(domain.IndexCode, record.Code), record.ID, 0)
			pipe.ExpireAt(ctx, s.indexKey(domain.IndexCode, record.Code), record.ExpiresAt)
		}
		if record.AccessToken != "" {
			pipe.Set(ctx, s.indexKey(domain.IndexAccessToken, record.AccessToken), record.ID, 0)
			pipe.ExpireAt(ctx, s.indexKey(domain.IndexAccessToken, record.AccessToken), record.ExpiresAt)
		}
		if record.RefreshToken != "" {
			addToSession.Eval(ctx, pipe,
				[]string{s.indexKey(domain.IndexRefreshToken, record.RefreshToken)},
				record.CreatedAt.UnixMilli(), record.ID, ttl.Milliseconds())
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save authorization record in Redis: %w", err)
	}

	return nil
}

// load fetches a live record or returns nil when it is gone.
func (s *AuthorizationStore) load(ctx context.Context, id string) (*domain.AuthorizationRecord, error) {
	payload, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get authorization record from Redis: %w", err)
	}

	var record domain.AuthorizationRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization record: %w", err)
	}

	if record.Expired(s.now()) {
		return nil, nil
	}

	return &record, nil
}

// GetAuthorization implements domain.AuthorizationStore.
func (s *AuthorizationStore) GetAuthorization(ctx context.Context, id string) (*domain.AuthorizationRecord, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}

	return record, nil
}

// FindAuthorization implements domain.AuthorizationStore.
func (s *AuthorizationStore) FindAuthorization(
	ctx context.Context,
	index domain.LookupIndex,
	value string,
) (*domain.AuthorizationRecord, error) {
	if value == "" || !index.Valid() {
		return nil, domain.ErrNotFound
	}

	key := s.indexKey(index, value)

	var ids []string
	if index == domain.IndexRefreshToken {
		members, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read refresh session from Redis: %w", err)
		}
		ids = members
	} else {
		id, err := s.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, domain.ErrNotFound
			}

			return nil, fmt.Errorf("failed to read index from Redis: %w", err)
		}
		ids = []string{id}
	}

	// Session members are newest first, so the first live match wins.
	for _, id := range ids {
		record, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil && index.Value(record) == value {
			return record, nil
		}
		if index == domain.IndexRefreshToken {
			if err := s.client.ZRem(ctx, key, id).Err(); err != nil {
				log.Warn().Err(err).Str("record_id", id).Msg("Failed to prune refresh session member")
			}
		}
	}

	return nil, domain.ErrNotFound
}

func (s *AuthorizationStore) unindex(ctx context.Context, pipe redis.Pipeliner, record *domain.AuthorizationRecord) {
	if record.Code != "" {
		pipe.Del(ctx, s.indexKey(domain.IndexCode, record.Code))
	}
	if record.AccessToken != "" {
		pipe.Del(ctx, s.indexKey(domain.IndexAccessToken, record.AccessToken))
	}
	if record.RefreshToken != "" {
		pipe.ZRem(ctx, s.indexKey(domain.IndexRefreshToken, record.RefreshToken), record.ID)
	}
}

// ConsumeAuthorizationCode implements domain.AuthorizationStore. DEL reports
// how many keys it removed, so only one concurrent caller sees 1.
func (s *AuthorizationStore) ConsumeAuthorizationCode(ctx context.Context, id string) error {
	record, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if record == nil || record.Phase() != domain.PhaseCode {
		return domain.ErrNotFound
	}

	removed, err := s.client.Del(ctx, s.recordKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to consume authorization code in Redis: %w", err)
	}
	if removed != 1 {
		return domain.ErrNotFound
	}

	// The record is gone, so a leftover index key only misses on lookup.
	if err := s.client.Del(ctx, s.indexKey(domain.IndexCode, record.Code)).Err(); err != nil {
		log.Warn().Err(err).Str("record_id", id).Msg("Failed to remove code index after consume")
	}

	return nil
}

// DeleteAuthorization implements domain.AuthorizationStore.
func (s *AuthorizationStore) DeleteAuthorization(ctx context.Context, id string) error {
	record, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		if record != nil {
			s.unindex(ctx, pipe, record)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete authorization record from Redis: %w", err)
	}

	return nil
}

// DeleteByRefreshToken implements domain.AuthorizationStore.
func (s *AuthorizationStore) DeleteByRefreshToken(ctx context.Context, refreshToken string) (int, error) {
	if refreshToken == "" {
		return 0, nil
	}

	sessionKey := s.indexKey(domain.IndexRefreshToken, refreshToken)

	ids, err := s.client.ZRange(ctx, sessionKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read refresh session from Redis: %w", err)
	}

	removed := 0
	for _, id := range ids {
		record, err := s.load(ctx, id)
		if err != nil {
			return removed, err
		}
		if record == nil {
			continue
		}

		var del *redis.IntCmd
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, s.recordKey(id))
			s.unindex(ctx, pipe, record)

			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to delete authorization record from Redis: %w", err)
		}
		if del.Val() == 1 {
			removed++
		}
	}

	if err := s.client.Del(ctx, sessionKey).Err(); err != nil {
		return removed, fmt.Errorf("failed to delete refresh session from Redis: %w", err)
	}

	return removed, nil
}

var _ domain.AuthorizationStore = (*AuthorizationStore)(nil)
