// Package storetest holds the behavioral tests every store driver must pass.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CodeRecord returns a live code-phase record.
func CodeRecord(clientID, code string) *domain.AuthorizationRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &domain.AuthorizationRecord{
		ID:                  uuid.NewString(),
		Code:                code,
		ClientID:            clientID,
		UserID:              "alice",
		Scope:               "read",
		RedirectURI:         "https://app/cb",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

// TokenRecord returns a live token-phase record created at createdAt.
func TokenRecord(clientID, access, refresh string, createdAt time.Time) *domain.AuthorizationRecord {
	createdAt = createdAt.UTC().Truncate(time.Millisecond)

	return &domain.AuthorizationRecord{
		ID:           uuid.NewString(),
		AccessToken:  access,
		RefreshToken: refresh,
		ClientID:     clientID,
		UserID:       "alice",
		Scope:        "read write",
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(time.Hour),
	}
}

// RunAuthorizationStoreTests exercises an AuthorizationStore implementation.
// newStore must return an empty store.
func RunAuthorizationStoreTests(t *testing.T, newStore func(t *testing.T) domain.AuthorizationStore) {
	t.Helper()

	ctx := context.Background()

	t.Run("SaveGetAndFindByCode", func(t *testing.T) {
		s := newStore(t)
		rec := CodeRecord("c1", "code-1")
		require.NoError(t, s.SaveAuthorization(ctx, rec))

		got, err := s.GetAuthorization(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Code, got.Code)
		assert.Equal(t, rec.CodeChallenge, got.CodeChallenge)
		assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))

		found, err := s.FindAuthorization(ctx, domain.IndexCode, "code-1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, found.ID)
		assert.Equal(t, domain.PhaseCode, found.Phase())
	})

	t.Run("MissesAreNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetAuthorization(ctx, uuid.NewString())
		require.ErrorIs(t, err, domain.ErrNotFound)

		for _, index := range []domain.LookupIndex{domain.IndexCode, domain.IndexAccessToken, domain.IndexRefreshToken} {
			_, err = s.FindAuthorization(ctx, index, "nope")
			require.ErrorIs(t, err, domain.ErrNotFound)
		}
	})

	t.Run("ExpiredRecordsAreHidden", func(t *testing.T) {
		s := newStore(t)
		rec := TokenRecord("c1", "expired-access", "expired-refresh", time.Now().Add(-2*time.Hour))
		require.NoError(t, s.SaveAuthorization(ctx, rec))

		_, err := s.GetAuthorization(ctx, rec.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = s.FindAuthorization(ctx, domain.IndexAccessToken, "expired-access")
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = s.FindAuthorization(ctx, domain.IndexRefreshToken, "expired-refresh")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("FindByRefreshReturnsMostRecent", func(t *testing.T) {
		s := newStore(t)
		base := time.Now().Add(-time.Minute)
		older := TokenRecord("c1", "a-1", "shared-refresh", base)
		newer := TokenRecord("c1", "a-2", "shared-refresh", base.Add(30*time.Second))

		require.NoError(t, s.SaveAuthorization(ctx, newer))
		require.NoError(t, s.SaveAuthorization(ctx, older))

		found, err := s.FindAuthorization(ctx, domain.IndexRefreshToken, "shared-refresh")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, found.ID)

		found, err = s.FindAuthorization(ctx, domain.IndexAccessToken, "a-1")
		require.NoError(t, err)
		assert.Equal(t, older.ID, found.ID)
	})

	t.Run("ConsumeCodeOnce", func(t *testing.T) {
		s := newStore(t)
		rec := CodeRecord("c1", "code-once")
		require.NoError(t, s.SaveAuthorization(ctx, rec))

		require.NoError(t, s.ConsumeAuthorizationCode(ctx, rec.ID))
		require.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, rec.ID), domain.ErrNotFound)

		_, err := s.FindAuthorization(ctx, domain.IndexCode, "code-once")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ConsumeRejectsTokenRecords", func(t *testing.T) {
		s := newStore(t)
		rec := TokenRecord("c1", "a-consume", "r-consume", time.Now())
		require.NoError(t, s.SaveAuthorization(ctx, rec))

		require.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, rec.ID), domain.ErrNotFound)

		_, err := s.GetAuthorization(ctx, rec.ID)
		require.NoError(t, err)
	})

	t.Run("ConcurrentConsumeHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		rec := CodeRecord("c1", "code-race")
		require.NoError(t, s.SaveAuthorization(ctx, rec))

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.ConsumeAuthorizationCode(ctx, rec.ID) == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("DeleteAuthorization", func(t *testing.T) {
		s := newStore(t)
		rec := TokenRecord("c1", "a-del", "r-del", time.Now())
		require.NoError(t, s.SaveAuthorization(ctx, rec))

		require.NoError(t, s.DeleteAuthorization(ctx, rec.ID))
		require.NoError(t, s.DeleteAuthorization(ctx, rec.ID))

		_, err := s.FindAuthorization(ctx, domain.IndexAccessToken, "a-del")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("DeleteByRefreshToken", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		first := TokenRecord("c1", "a-s1", "r-session", now.Add(-time.Second))
		second := TokenRecord("c1", "a-s2", "r-session", now)
		other := TokenRecord("c1", "a-other", "r-other", now)
		for _, rec := range []*domain.AuthorizationRecord{first, second, other} {
			require.NoError(t, s.SaveAuthorization(ctx, rec))
		}

		removed, err := s.DeleteByRefreshToken(ctx, "r-session")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, err = s.FindAuthorization(ctx, domain.IndexAccessToken, "a-s1")
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.FindAuthorization(ctx, domain.IndexRefreshToken, "r-session")
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = s.FindAuthorization(ctx, domain.IndexAccessToken, "a-other")
		require.NoError(t, err)

		removed, err = s.DeleteByRefreshToken(ctx, "r-session")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

// NewClient returns a client ready to be stored.
func NewClient(id string) *domain.Client {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &domain.Client{
		ID:            id,
		SecretHash:    "$2a$04$hash",
		Name:          "Client " + id,
		RedirectURIs:  []string{"https://app/cb"},
		AllowedScopes: []string{"read", "write"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RunClientStoreTests exercises a ClientStore implementation.
// newStore must return an empty store.
func RunClientStoreTests(t *testing.T, newStore func(t *testing.T) domain.ClientStore) {
	t.Helper()

	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		c := NewClient("c1")
		require.NoError(t, s.CreateClient(ctx, c))

		got, err := s.GetClient(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, c.Name, got.Name)
		assert.Equal(t, c.SecretHash, got.SecretHash)
		assert.Equal(t, c.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, c.AllowedScopes, got.AllowedScopes)

		require.ErrorIs(t, s.CreateClient(ctx, NewClient("c1")), domain.ErrAlreadyExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetClient(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateClient(ctx, NewClient("a")))
		require.NoError(t, s.CreateClient(ctx, NewClient("b")))

		clients, err := s.ListClients(ctx)
		require.NoError(t, err)

		ids := make([]string, 0, len(clients))
		for _, c := range clients {
			ids = append(ids, c.ID)
		}
		assert.ElementsMatch(t, []string{"a", "b"}, ids)
	})

	t.Run("UpdateWhitelist", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateClient(ctx, NewClient("c1")))

		name := "Renamed"
		uris := []string{"https://new/cb"}
		updated, err := s.UpdateClient(ctx, "c1", domain.ClientUpdate{Name: &name, RedirectURIs: &uris})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Name)
		assert.Equal(t, uris, updated.RedirectURIs)
		assert.Equal(t, []string{"read", "write"}, updated.AllowedScopes)

		got, err := s.GetClient(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, "$2a$04$hash", got.SecretHash)

		_, err = s.UpdateClient(ctx, "missing", domain.ClientUpdate{Name: &name})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateClient(ctx, NewClient("c1")))

		require.NoError(t, s.DeleteClient(ctx, "c1"))
		require.ErrorIs(t, s.DeleteClient(ctx, "c1"), domain.ErrNotFound)

		_, err := s.GetClient(ctx, "c1")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}
