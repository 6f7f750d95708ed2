package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pilab-dev/mcp-oauth/cache"
	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/pilab-dev/mcp-oauth/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAuthorizationStore(t *testing.T) {
	storetest.RunAuthorizationStoreTests(t, func(t *testing.T) domain.AuthorizationStore {
		s := cache.NewMemoryAuthorizationStore()
		t.Cleanup(func() { _ = s.Close() })

		return s
	})
}

func TestMemoryClientStore(t *testing.T) {
	storetest.RunClientStoreTests(t, func(_ *testing.T) domain.ClientStore {
		return cache.NewMemoryClientStore()
	})
}

func TestMemoryAuthorizationStore_ClockExpiry(t *testing.T) {
	now := time.Now()
	s := cache.NewMemoryAuthorizationStore(cache.WithClock(func() time.Time { return now }))
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	rec := storetest.TokenRecord("c1", "a-1", "r-1", now)
	require.NoError(t, s.SaveAuthorization(ctx, rec))

	_, err := s.FindAuthorization(ctx, domain.IndexAccessToken, "a-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)

	_, err = s.FindAuthorization(ctx, domain.IndexAccessToken, "a-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryAuthorizationStore_TTLEviction(t *testing.T) {
	s := cache.NewMemoryAuthorizationStore()
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	rec := storetest.CodeRecord("c1", "short-lived")
	rec.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	require.NoError(t, s.SaveAuthorization(ctx, rec))
	assert.Equal(t, 1, s.Count())

	assert.Eventually(t, func() bool {
		_, err := s.FindAuthorization(ctx, domain.IndexCode, "short-lived")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryAuthorizationStore_EvictionDropsIndices(t *testing.T) {
	s := cache.NewMemoryAuthorizationStore()
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	soon := time.Now().Add(30 * time.Millisecond)

	for i := range 200 {
		rec := storetest.TokenRecord("c1", fmt.Sprintf("a-%d", i), fmt.Sprintf("r-%d", i), time.Now())
		rec.ExpiresAt = soon
		require.NoError(t, s.SaveAuthorization(ctx, rec))
	}
	for i := range 50 {
		rec := storetest.CodeRecord("c1", fmt.Sprintf("code-%d", i))
		rec.ExpiresAt = soon
		require.NoError(t, s.SaveAuthorization(ctx, rec))
	}

	kept := storetest.TokenRecord("c1", "a-kept", "r-kept", time.Now())
	require.NoError(t, s.SaveAuthorization(ctx, kept))

	assert.Eventually(t, func() bool {
		ids, codes, tokens, refresh := cache.IndexSizes(s)
		return ids == 1 && codes == 0 && tokens == 1 && refresh == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := s.FindAuthorization(ctx, domain.IndexRefreshToken, "r-kept")
	require.NoError(t, err)
	assert.Equal(t, kept.ID, got.ID)
}

func TestMemoryAuthorizationStore_ResaveReplacesIndices(t *testing.T) {
	s := cache.NewMemoryAuthorizationStore()
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	rec := storetest.TokenRecord("c1", "a-old", "r-old", time.Now())
	rec.ExpiresAt = time.Now().Add(30 * time.Millisecond)
	require.NoError(t, s.SaveAuthorization(ctx, rec))

	rec.AccessToken = "a-new"
	rec.RefreshToken = "r-new"
	rec.ExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, s.SaveAuthorization(ctx, rec))

	// Outlive the first TTL so a stale eviction would have fired.
	time.Sleep(100 * time.Millisecond)

	_, err := s.FindAuthorization(ctx, domain.IndexAccessToken, "a-old")
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.FindAuthorization(ctx, domain.IndexAccessToken, "a-new")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	ids, codes, tokens, refresh := cache.IndexSizes(s)
	assert.Equal(t, []int{1, 0, 1, 1}, []int{ids, codes, tokens, refresh})
}

func TestMemoryAuthorizationStore_DeleteLeavesNoIndices(t *testing.T) {
	s := cache.NewMemoryAuthorizationStore()
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	now := time.Now()
	for i := range 3 {
		rec := storetest.TokenRecord("c1", fmt.Sprintf("a-%d", i), "shared", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.SaveAuthorization(ctx, rec))
	}

	removed, err := s.DeleteByRefreshToken(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	ids, codes, tokens, refresh := cache.IndexSizes(s)
	assert.Equal(t, []int{0, 0, 0, 0}, []int{ids, codes, tokens, refresh})
}

func TestMemoryAuthorizationStore_ReturnsCopies(t *testing.T) {
	s := cache.NewMemoryAuthorizationStore()
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	rec := storetest.CodeRecord("c1", "copy")
	require.NoError(t, s.SaveAuthorization(ctx, rec))

	rec.ClientID = "mutated"
	got, err := s.GetAuthorization(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)

	got.Scope = "admin"
	again, err := s.GetAuthorization(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "read", again.Scope)
}
