package services_test

import (
	"testing"

	"github.com/pilab-dev/mcp-oauth/services"
	"github.com/stretchr/testify/assert"
)

func TestFilterScopes(t *testing.T) {
	allowed := []string{"read", "write"}

	tests := []struct {
		name      string
		requested string
		allowed   []string
		want      []string
	}{
		{"intersection keeps order", "write admin read", allowed, []string{"write", "read"}},
		{"drops disallowed", "read write admin", allowed, []string{"read", "write"}},
		{"nothing allowed falls back", "admin", allowed, []string{"default"}},
		{"empty request falls back", "", allowed, []string{"default"}},
		{"repeated spaces", "read   write", allowed, []string{"read", "write"}},
		{"duplicates kept once", "read read", allowed, []string{"read"}},
		{"no allowed scopes", "read", nil, []string{"default"}},
		{"case sensitive", "READ", allowed, []string{"default"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, services.FilterScopes(tt.requested, tt.allowed))
		})
	}
}
