package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/mcp-oauth/domain"
)

// MemoryAuthorizationStore implements domain.AuthorizationStore using
// ttlcache. Records expire at their ExpiresAt; secondary indices are dropped
// when ttlcache evicts the record.
type MemoryAuthorizationStore struct {
	mu      sync.Mutex
	records *ttlcache.Cache[string, *domain.AuthorizationRecord]
	// indexed holds the record each ID's index entries were built from.
	indexed map[string]*domain.AuthorizationRecord
	byCode  map[string]string
	byToken map[string]string
	// A refresh token is shared by every record of one session.
	byRefresh   map[string][]string
	now         func() time.Time
	unsubscribe func()
}

// MemoryOption customizes a MemoryAuthorizationStore.
type MemoryOption func(*MemoryAuthorizationStore)

// WithClock replaces the clock used to hide expired records.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryAuthorizationStore) { s.now = now }
}

// NewMemoryAuthorizationStore creates an in-memory store with automatic
// cleanup of expired records. Call Close to stop the cleanup goroutine.
func NewMemoryAuthorizationStore(opts ...MemoryOption) *MemoryAuthorizationStore {
	records := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.AuthorizationRecord](),
	)

	go records.Start()

	s := &MemoryAuthorizationStore{
		records:   records,
		indexed:   make(map[string]*domain.AuthorizationRecord),
		byCode:    make(map[string]string),
		byToken:   make(map[string]string),
		byRefresh: make(map[string][]string),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Eviction callbacks run on their own goroutines, outside s.mu.
	s.unsubscribe = records.OnEviction(s.evicted)

	return s
}

func (s *MemoryAuthorizationStore) evicted(
	_ context.Context,
	_ ttlcache.EvictionReason,
	item *ttlcache.Item[string, *domain.AuthorizationRecord],
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := item.Value()
	// A record saved again under the same ID owns the entries now.
	if s.indexed[record.ID] != record {
		return
	}

	s.unindexLocked(record)
}

func cloneRecord(r *domain.AuthorizationRecord) *domain.AuthorizationRecord {
	cp := *r

	return &cp
}

// SaveAuthorization implements domain.AuthorizationStore.
func (s *MemoryAuthorizationStore) SaveAuthorization(_ context.Context, record *domain.AuthorizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		// Already expired: it could never be read back.
		return nil
	}

	if old := s.indexed[record.ID]; old != nil {
		s.unindexLocked(old)
	}

	stored := cloneRecord(record)
	s.records.Set(stored.ID, stored, ttl)
	s.indexed[stored.ID] = stored

	if stored.Code != "" {
		s.byCode[stored.Code] = stored.ID
	}
	if stored.AccessToken != "" {
		s.byToken[stored.AccessToken] = stored.ID
	}
	if stored.RefreshToken != "" {
		s.byRefresh[stored.RefreshToken] = append(s.byRefresh[stored.RefreshToken], stored.ID)
	}

	return nil
}

// getLocked returns the live record with the given ID or nil.
func (s *MemoryAuthorizationStore) getLocked(id string) *domain.AuthorizationRecord {
	item := s.records.Get(id)
	if item == nil {
		return nil
	}

	record := item.Value()
	if record.Expired(s.now()) {
		return nil
	}

	return record
}

// GetAuthorization implements domain.AuthorizationStore.
func (s *MemoryAuthorizationStore) GetAuthorization(_ context.Context, id string) (*domain.AuthorizationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.getLocked(id)
	if record == nil {
		return nil, domain.ErrNotFound
	}

	return cloneRecord(record), nil
}

// FindAuthorization implements domain.AuthorizationStore.
func (s *MemoryAuthorizationStore) FindAuthorization(
	_ context.Context,
	index domain.LookupIndex,
	value string,
) (*domain.AuthorizationRecord, error) {
	if value == "" || !index.Valid() {
		return nil, domain.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found *domain.AuthorizationRecord
	for _, id := range s.idsLocked(index, value) {
		record := s.getLocked(id)
		if record == nil || index.Value(record) != value {
			continue
		}
		if found == nil || record.CreatedAt.After(found.CreatedAt) {
			found = record
		}
	}

	if found == nil {
		return nil, domain.ErrNotFound
	}

	return cloneRecord(found), nil
}

// idsLocked returns the candidate IDs for a lookup and drops index entries
// whose records are gone.
func (s *MemoryAuthorizationStore) idsLocked(index domain.LookupIndex, value string) []string {
	switch index {
	case domain.IndexCode:
		id, ok := s.byCode[value]
		if !ok {
			return nil
		}
		if s.records.Get(id) == nil {
			delete(s.byCode, value)
			return nil
		}

		return []string{id}
	case domain.IndexAccessToken:
		id, ok := s.byToken[value]
		if !ok {
			return nil
		}
		if s.records.Get(id) == nil {
			delete(s.byToken, value)
			return nil
		}

		return []string{id}
	case domain.IndexRefreshToken:
		ids := slices.DeleteFunc(s.byRefresh[value], func(id string) bool {
			return s.records.Get(id) == nil
		})
		if len(ids) == 0 {
			delete(s.byRefresh, value)
			return nil
		}
		s.byRefresh[value] = ids

		return slices.Clone(ids)
	default:
		return nil
	}
}

func (s *MemoryAuthorizationStore) unindexLocked(record *domain.AuthorizationRecord) {
	if s.indexed[record.ID] == record {
		delete(s.indexed, record.ID)
	}
	if record.Code != "" && s.byCode[record.Code] == record.ID {
		delete(s.byCode, record.Code)
	}
	if record.AccessToken != "" && s.byToken[record.AccessToken] == record.ID {
		delete(s.byToken, record.AccessToken)
	}
	if record.RefreshToken != "" {
		ids := slices.DeleteFunc(s.byRefresh[record.RefreshToken], func(id string) bool {
			return id == record.ID
		})
		if len(ids) == 0 {
			delete(s.byRefresh, record.RefreshToken)
		} else {
			s.byRefresh[record.RefreshToken] = ids
		}
	}
}

// deleteLocked removes a record and its index entries. It reports whether
// the record was still live.
func (s *MemoryAuthorizationStore) deleteLocked(id string) bool {
	live := s.getLocked(id) != nil

	if record := s.indexed[id]; record != nil {
		s.unindexLocked(record)
	}
	s.records.Delete(id)

	return live
}

// ConsumeAuthorizationCode implements domain.AuthorizationStore.
func (s *MemoryAuthorizationStore) ConsumeAuthorizationCode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.getLocked(id)
	if record == nil || record.Phase() != domain.PhaseCode {
		return domain.ErrNotFound
	}

	s.deleteLocked(id)

	return nil
}

// DeleteAuthorization implements domain.AuthorizationStore.
func (s *MemoryAuthorizationStore) DeleteAuthorization(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(id)

	return nil
}

// DeleteByRefreshToken implements domain.AuthorizationStore.
func (s *MemoryAuthorizationStore) DeleteByRefreshToken(_ context.Context, refreshToken string) (int, error) {
	if refreshToken == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range slices.Clone(s.byRefresh[refreshToken]) {
		if s.deleteLocked(id) {
			removed++
		}
	}
	delete(s.byRefresh, refreshToken)

	return removed, nil
}

// Count returns the number of records held, expired ones included until the
// next cleanup.
func (s *MemoryAuthorizationStore) Count() int {
	return s.records.Len()
}

// Close stops the cleanup goroutine and waits for pending eviction hooks.
func (s *MemoryAuthorizationStore) Close() error {
	s.records.Stop()
	s.unsubscribe()

	return nil
}

var _ domain.AuthorizationStore = (*MemoryAuthorizationStore)(nil)
