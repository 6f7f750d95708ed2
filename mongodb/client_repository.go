package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ClientRepository implements domain.ClientStore on MongoDB.
type ClientRepository struct {
	clients *mongo.Collection
}

// NewClientRepository creates the repository and its unique client_id index.
func NewClientRepository(ctx context.Context, db *mongo.Database) (*ClientRepository, error) {
	r := &ClientRepository{clients: db.Collection(ClientsCollection)}

	_, err := r.clients.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("client_id_unique"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client index: %w", err)
	}

	return r, nil
}

// GetClient implements domain.ClientRegistry.
func (r *ClientRepository) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var client domain.Client
	if err := r.clients.FindOne(ctx, bson.M{"client_id": clientID}).Decode(&client); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}

		log.Error().Err(err).Str("client_id", clientID).Msg("Error retrieving client")
		return nil, fmt.Errorf("failed to retrieve client: %w", err)
	}

	return &client, nil
}

// CreateClient implements domain.ClientStore.
func (r *ClientRepository) CreateClient(ctx context.Context, client *domain.Client) error {
	if _, err := r.clients.InsertOne(ctx, client); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}

		return fmt.Errorf("failed to create client: %w", err)
	}

	log.Debug().Str("client_id", client.ID).Msg("Client created")

	return nil
}

// ListClients implements domain.ClientStore. Clients are ordered by creation.
func (r *ClientRepository) ListClients(ctx context.Context) ([]*domain.Client, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "client_id", Value: 1}})

	cursor, err := r.clients.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	var clients []*domain.Client
	if err := cursor.All(ctx, &clients); err != nil {
		return nil, fmt.Errorf("failed to decode clients: %w", err)
	}

	return clients, nil
}

// UpdateClient implements domain.ClientStore. Only the fields named by
// domain.ClientUpdate can reach the $set document.
func (r *ClientRepository) UpdateClient(ctx context.Context, clientID string, update domain.ClientUpdate) (*domain.Client, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		set["client_name"] = *update.Name
	}
	if update.RedirectURIs != nil {
		set["redirect_uris"] = *update.RedirectURIs
	}
	if update.AllowedScopes != nil {
		set["allowed_scopes"] = *update.AllowedScopes
	}
	if update.SecretHash != nil {
		set["client_secret_hash"] = *update.SecretHash
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var client domain.Client
	err := r.clients.FindOneAndUpdate(ctx, bson.M{"client_id": clientID}, bson.M{"$set": set}, opts).Decode(&client)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}

		return nil, fmt.Errorf("failed to update client: %w", err)
	}

	return &client, nil
}

// DeleteClient implements domain.ClientStore.
func (r *ClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	res, err := r.clients.DeleteOne(ctx, bson.M{"client_id": clientID})
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}

	return nil
}

var _ domain.ClientStore = (*ClientRepository)(nil)
