package cache

// IndexSizes reports how many entries each secondary index of s holds.
func IndexSizes(s *MemoryAuthorizationStore) (ids, codes, tokens, refresh int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.indexed), len(s.byCode), len(s.byToken), len(s.byRefresh)
}
