package domain

import (
	"context"
	"time"
)

// RecordPhase distinguishes the two shapes an AuthorizationRecord can take.
type RecordPhase string

const (
	PhaseCode  RecordPhase = "code"
	PhaseToken RecordPhase = "token"
)

// AuthorizationRecord is a single-purpose, time-bounded grant artifact.
// A code-phase record carries the authorization code and the PKCE challenge;
// a token-phase record carries an access token and its refresh token.
// Redeeming a code writes a new token-phase record; records are never
// converted in place.
//
//nolint:tagliatelle
type AuthorizationRecord struct {
	ID                  string    `bson:"_id"                             json:"id"`
	Code                string    `bson:"code,omitempty"                  json:"code,omitempty"`
	AccessToken         string    `bson:"access_token,omitempty"          json:"access_token,omitempty"`
	RefreshToken        string    `bson:"refresh_token,omitempty"         json:"refresh_token,omitempty"`
	ClientID            string    `bson:"client_id"                       json:"client_id"`
	UserID              string    `bson:"user_id"                         json:"user_id"`
	Scope               string    `bson:"scope"                           json:"scope"`
	RedirectURI         string    `bson:"redirect_uri,omitempty"          json:"redirect_uri,omitempty"`
	CodeChallenge       string    `bson:"code_challenge,omitempty"        json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `bson:"code_challenge_method,omitempty" json:"code_challenge_method,omitempty"`
	CreatedAt           time.Time `bson:"created_at"                      json:"created_at"`
	ExpiresAt           time.Time `bson:"expires_at"                      json:"expires_at"` // absolute TTL
}

// Phase reports which shape the record has.
func (r *AuthorizationRecord) Phase() RecordPhase {
	if r.Code != "" {
		return PhaseCode
	}

	return PhaseToken
}

// Expired reports whether the record must be treated as absent at now.
func (r *AuthorizationRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// LookupIndex names a secondary index of the authorization store.
type LookupIndex string

const (
	IndexCode         LookupIndex = "code"
	IndexAccessToken  LookupIndex = "access_token"
	IndexRefreshToken LookupIndex = "refresh_token"
)

// Valid reports whether i is one of the known indices.
func (i LookupIndex) Valid() bool {
	switch i {
	case IndexCode, IndexAccessToken, IndexRefreshToken:
		return true
	default:
		return false
	}
}

// Value returns the record field the index is built on.
func (i LookupIndex) Value(r *AuthorizationRecord) string {
	switch i {
	case IndexCode:
		return r.Code
	case IndexAccessToken:
		return r.AccessToken
	case IndexRefreshToken:
		return r.RefreshToken
	default:
		return ""
	}
}

// AuthorizationStore is the sole owner of authorization records. All
// implementations must hide expired records from every read.
type AuthorizationStore interface {
	// SaveAuthorization writes a record keyed by its ID.
	SaveAuthorization(ctx context.Context, record *AuthorizationRecord) error

	// GetAuthorization retrieves a record by primary key.
	// Returns ErrNotFound for missing or expired records.
	GetAuthorization(ctx context.Context, id string) (*AuthorizationRecord, error)

	// FindAuthorization returns the most recently created unexpired record
	// whose index field equals value. Returns ErrNotFound when none match.
	FindAuthorization(ctx context.Context, index LookupIndex, value string) (*AuthorizationRecord, error)

	// ConsumeAuthorizationCode atomically deletes the code-phase record with
	// the given ID. Exactly one concurrent caller succeeds; the others get
	// ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, id string) error

	// DeleteAuthorization removes a record by primary key. Deleting a missing
	// record is not an error.
	DeleteAuthorization(ctx context.Context, id string) error

	// DeleteByRefreshToken removes every record carrying refreshToken and
	// returns how many were removed.
	DeleteByRefreshToken(ctx context.Context, refreshToken string) (int, error)
}
