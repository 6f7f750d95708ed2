package domain

import (
	"context"
	"slices"
	"time"
)

// Client represents a registered OAuth2 client application.
//
//nolint:tagliatelle
type Client struct {
	ID            string    `bson:"client_id"          json:"client_id"`
	SecretHash    string    `bson:"client_secret_hash" json:"-"` // bcrypt hash, never serialized to callers
	Name          string    `bson:"client_name"        json:"name"`
	RedirectURIs  []string  `bson:"redirect_uris"      json:"redirect_uris"`
	AllowedScopes []string  `bson:"allowed_scopes"     json:"allowed_scopes"`
	CreatedAt     time.Time `bson:"created_at"         json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"         json:"updated_at"`
}

// HasRedirectURI reports whether uri exactly matches one of the registered
// redirect URIs. No normalization is applied.
func (c *Client) HasRedirectURI(uri string) bool {
	return uri != "" && slices.Contains(c.RedirectURIs, uri)
}

// ClientRegistry is the read-only view of the client store used by the
// authorization core.
type ClientRegistry interface {
	// GetClient retrieves a client by ID.
	// Returns ErrNotFound when no such client exists.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// ClientStore defines client storage for the management collaborator.
type ClientStore interface {
	ClientRegistry

	// CreateClient stores a new client. Returns ErrAlreadyExists on an ID clash.
	CreateClient(ctx context.Context, client *Client) error

	// ListClients returns every registered client.
	ListClients(ctx context.Context) ([]*Client, error)

	// UpdateClient applies the whitelisted fields of update and returns the
	// stored result. Returns ErrNotFound when no such client exists.
	UpdateClient(ctx context.Context, clientID string, update ClientUpdate) (*Client, error)

	// DeleteClient removes a client. Returns ErrNotFound when no such client exists.
	DeleteClient(ctx context.Context, clientID string) error
}

// ClientUpdate names the only client fields that may change after creation.
// Nil fields are left untouched.
type ClientUpdate struct {
	Name          *string
	RedirectURIs  *[]string
	AllowedScopes *[]string
	SecretHash    *string
}

// IsEmpty reports whether the update would change nothing.
func (u ClientUpdate) IsEmpty() bool {
	return u.Name == nil && u.RedirectURIs == nil && u.AllowedScopes == nil && u.SecretHash == nil
}

// Apply copies the set fields onto c and bumps UpdatedAt.
func (u ClientUpdate) Apply(c *Client, now time.Time) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.RedirectURIs != nil {
		c.RedirectURIs = slices.Clone(*u.RedirectURIs)
	}
	if u.AllowedScopes != nil {
		c.AllowedScopes = slices.Clone(*u.AllowedScopes)
	}
	if u.SecretHash != nil {
		c.SecretHash = *u.SecretHash
	}
	c.UpdatedAt = now
}
