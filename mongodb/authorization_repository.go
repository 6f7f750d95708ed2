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

// AuthorizationRepository implements domain.AuthorizationStore on MongoDB.
// A TTL index on expires_at purges expired records; reads filter on
// expires_at as well since the TTL monitor only runs once a minute.
type AuthorizationRepository struct {
	authorizations *mongo.Collection
	now            func() time.Time
}

// NewAuthorizationRepository creates the repository and its indexes.
func NewAuthorizationRepository(ctx context.Context, db *mongo.Database) (*AuthorizationRepository, error) {
	r := &AuthorizationRepository{
		authorizations: db.Collection(AuthorizationsCollection),
		now:            time.Now,
	}

	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *AuthorizationRepository) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
		},
		{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("code_unique"),
		},
		{
			Keys:    bson.D{{Key: "access_token", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("access_token_unique"),
		},
		{
			Keys:    bson.D{{Key: "refresh_token", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetSparse(true).SetName("refresh_token_created_at"),
		},
	}

	if _, err := r.authorizations.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create authorization indexes: %w", err)
	}

	return nil
}

func (r *AuthorizationRepository) live() bson.E {
	return bson.E{Key: "expires_at", Value: bson.M{"$gt": r.now().UTC()}}
}

// SaveAuthorization implements domain.AuthorizationStore.
func (r *AuthorizationRepository) SaveAuthorization(ctx context.Context, record *domain.AuthorizationRecord) error {
	if record.Expired(r.now()) {
		return nil
	}

	_, err := r.authorizations.ReplaceOne(ctx,
		bson.M{"_id": record.ID},
		record,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		log.Error().Err(err).Str("record_id", record.ID).Msg("Error saving authorization record")
		return fmt.Errorf("failed to save authorization record: %w", err)
	}

	log.Debug().Str("record_id", record.ID).Str("client_id", record.ClientID).Msg("Authorization record saved")

	return nil
}

func (r *AuthorizationRepository) findOne(ctx context.Context, filter bson.D) (*domain.AuthorizationRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var record domain.AuthorizationRecord
	if err := r.authorizations.FindOne(ctx, filter, opts).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}

		return nil, fmt.Errorf("failed to retrieve authorization record: %w", err)
	}

	return &record, nil
}

// GetAuthorization implements domain.AuthorizationStore.
func (r *AuthorizationRepository) GetAuthorization(ctx context.Context, id string) (*domain.AuthorizationRecord, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}, r.live()})
}

// FindAuthorization implements domain.AuthorizationStore.
func (r *AuthorizationRepository) FindAuthorization(
	ctx context.Context,
	index domain.LookupIndex,
	value string,
) (*domain.AuthorizationRecord, error) {
	if value == "" || !index.Valid() {
		return nil, domain.ErrNotFound
	}

	return r.findOne(ctx, bson.D{{Key: string(index), Value: value}, r.live()})
}

// ConsumeAuthorizationCode implements domain.AuthorizationStore. The
// conditional DeleteOne is atomic, so only one caller sees a deletion.
func (r *AuthorizationRepository) ConsumeAuthorizationCode(ctx context.Context, id string) error {
	res, err := r.authorizations.DeleteOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "code", Value: bson.M{"$exists": true, "$ne": ""}},
		r.live(),
	})
	if err != nil {
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if res.DeletedCount != 1 {
		return domain.ErrNotFound
	}

	log.Debug().Str("record_id", id).Msg("Authorization code consumed")

	return nil
}

// DeleteAuthorization implements domain.AuthorizationStore.
func (r *AuthorizationRepository) DeleteAuthorization(ctx context.Context, id string) error {
	if _, err := r.authorizations.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete authorization record: %w", err)
	}

	return nil
}

// DeleteByRefreshToken implements domain.AuthorizationStore.
func (r *AuthorizationRepository) DeleteByRefreshToken(ctx context.Context, refreshToken string) (int, error) {
	if refreshToken == "" {
		return 0, nil
	}

	res, err := r.authorizations.DeleteMany(ctx, bson.D{{Key: "refresh_token", Value: refreshToken}, r.live()})
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh session: %w", err)
	}

	return int(res.DeletedCount), nil
}

var _ domain.AuthorizationStore = (*AuthorizationRepository)(nil)
