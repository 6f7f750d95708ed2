package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/pilab-dev/mcp-oauth/internal/audit"
	applog "github.com/pilab-dev/mcp-oauth/log"
)

// ErrInvalidClientInput is returned for client registrations or updates that
// fail validation.
var ErrInvalidClientInput = errors.New("invalid client input")

const clientAuditService = "clients"

// CreateClientRequest describes a new client registration.
type CreateClientRequest struct {
	Name          string   `json:"name"           yaml:"name"`
	RedirectURIs  []string `json:"redirect_uris"  yaml:"redirect_uris"`
	AllowedScopes []string `json:"allowed_scopes" yaml:"allowed_scopes"`
}

// ClientService manages registered clients. Plain secrets only leave it as
// the result of CreateClient and ResetSecret.
type ClientService struct {
	store  domain.ClientStore
	hasher SecretHasher
	logger applog.Logger
	now    func() time.Time
}

// NewClientService creates a new ClientService.
func NewClientService(store domain.ClientStore, hasher SecretHasher, logger applog.Logger) *ClientService {
	return &ClientService{
		store:  store,
		hasher: hasher,
		logger: logger,
		now:    time.Now,
	}
}

func validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return fmt.Errorf("%w: at least one redirect URI is required", ErrInvalidClientInput)
	}

	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" || u.Fragment != "" {
			return fmt.Errorf("%w: redirect URI %q must be absolute and carry no fragment", ErrInvalidClientInput, raw)
		}
	}

	return nil
}

func compactScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}

	return out
}

// CreateClient registers a client and returns it with its plain secret.
func (s *ClientService) CreateClient(ctx context.Context, req CreateClientRequest) (*domain.Client, string, error) {
	if req.Name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrInvalidClientInput)
	}
	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, "", err
	}

	scopes := compactScopes(req.AllowedScopes)
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}

	clientID, err := generateClientID()
	if err != nil {
		return nil, "", err
	}

	secret, secretHash, err := s.newSecret()
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	client := &domain.Client{
		ID:            clientID,
		SecretHash:    secretHash,
		Name:          req.Name,
		RedirectURIs:  slices.Clone(req.RedirectURIs),
		AllowedScopes: scopes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		audit.Log(clientAuditService, audit.ActionClientCreated, clientID, "", clientID, false, err)
		return nil, "", fmt.Errorf("failed to create client: %w", err)
	}

	audit.Log(clientAuditService, audit.ActionClientCreated, clientID, "", clientID, true, nil)
	s.logger.Info(ctx, "client created", applog.Fields{"client_id": clientID, "name": client.Name})

	return client, secret, nil
}

func (s *ClientService) newSecret() (string, string, error) {
	secret, err := generateClientSecret()
	if err != nil {
		return "", "", err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	return secret, hash, nil
}

// GetClient returns a client by ID.
func (s *ClientService) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client %s: %w", clientID, err)
	}

	return client, nil
}

// ListClients returns every registered client.
func (s *ClientService) ListClients(ctx context.Context) ([]*domain.Client, error) {
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	return clients, nil
}

// UpdateClient changes the name, redirect URIs or allowed scopes of a client.
// Secrets can only change through ResetSecret.
func (s *ClientService) UpdateClient(ctx context.Context, clientID string, update domain.ClientUpdate) (*domain.Client, error) {
	if update.SecretHash != nil {
		return nil, fmt.Errorf("%w: secrets change through a secret reset", ErrInvalidClientInput)
	}
	if update.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidClientInput)
	}
	if update.Name != nil && *update.Name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidClientInput)
	}
	if update.RedirectURIs != nil {
		if err := validateRedirectURIs(*update.RedirectURIs); err != nil {
			return nil, err
		}
	}
	if update.AllowedScopes != nil {
		scopes := compactScopes(*update.AllowedScopes)
		if len(scopes) == 0 {
			scopes = []string{DefaultScope}
		}
		update.AllowedScopes = &scopes
	}

	client, err := s.store.UpdateClient(ctx, clientID, update)
	audit.Log(clientAuditService, audit.ActionClientUpdated, clientID, "", clientID, err == nil, err)
	if err != nil {
		return nil, fmt.Errorf("failed to update client %s: %w", clientID, err)
	}

	return client, nil
}

// ResetSecret replaces a client's secret and returns the new plain secret.
func (s *ClientService) ResetSecret(ctx context.Context, clientID string) (*domain.Client, string, error) {
	secret, secretHash, err := s.newSecret()
	if err != nil {
		return nil, "", err
	}

	client, err := s.store.UpdateClient(ctx, clientID, domain.ClientUpdate{SecretHash: &secretHash})
	audit.Log(clientAuditService, audit.ActionClientSecret, clientID, "", clientID, err == nil, err)
	if err != nil {
		return nil, "", fmt.Errorf("failed to reset secret of client %s: %w", clientID, err)
	}

	s.logger.Info(ctx, "client secret reset", applog.Fields{"client_id": clientID})

	return client, secret, nil
}

// DeleteClient removes a client.
func (s *ClientService) DeleteClient(ctx context.Context, clientID string) error {
	err := s.store.DeleteClient(ctx, clientID)
	audit.Log(clientAuditService, audit.ActionClientDeleted, clientID, "", clientID, err == nil, err)
	if err != nil {
		return fmt.Errorf("failed to delete client %s: %w", clientID, err)
	}

	s.logger.Info(ctx, "client deleted", applog.Fields{"client_id": clientID})

	return nil
}

// RegisterClient stores a client with a caller-chosen ID and secret. It is
// used to seed clients from a bootstrap file; an existing client with the
// same ID is left as is.
func (s *ClientService) RegisterClient(ctx context.Context, clientID, secret string, req CreateClientRequest) (*domain.Client, error) {
	if clientID == "" || secret == "" {
		return nil, fmt.Errorf("%w: client_id and client_secret are required", ErrInvalidClientInput)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidClientInput)
	}
	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}

	scopes := compactScopes(req.AllowedScopes)
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}

	now := s.now().UTC()
	client := &domain.Client{
		ID:            clientID,
		SecretHash:    hash,
		Name:          req.Name,
		RedirectURIs:  slices.Clone(req.RedirectURIs),
		AllowedScopes: scopes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.logger.Debug(ctx, "bootstrap client already registered", applog.Fields{"client_id": clientID})
			return s.store.GetClient(ctx, clientID)
		}

		return nil, fmt.Errorf("failed to register client %s: %w", clientID, err)
	}

	audit.Log(clientAuditService, audit.ActionClientCreated, clientID, "", clientID, true, nil)

	return client, nil
}
