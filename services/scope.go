package services

import (
	"slices"
	"strings"
)

// DefaultScope is granted when none of the requested scopes is allowed.
const DefaultScope = "default"

// FilterScopes intersects a space-separated scope request with the client's
// allowed scopes, keeping the requester's order and falling back to
// DefaultScope when nothing survives.
func FilterScopes(requested string, allowed []string) []string {
	return filterScopes(requested, allowed, DefaultScope)
}

func filterScopes(requested string, allowed []string, fallback string) []string {
	var granted []string
	for _, s := range strings.Split(requested, " ") {
		if s == "" || slices.Contains(granted, s) {
			continue
		}
		if slices.Contains(allowed, s) {
			granted = append(granted, s)
		}
	}

	if len(granted) == 0 {
		return []string{fallback}
	}

	return granted
}
