package refreshtokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository stores one document per record. A unique index on "token"
// enforces that a token string is never recorded twice.
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository ensures indexes on the collection and returns the repository.
func NewMongoRepository(ctx context.Context, col *mongo.Collection) (*MongoRepository, error) {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}, {Key: "issuedAt", Value: 1}}},
	}
	if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
		return nil, fmt.Errorf("create refresh token indexes: %w", err)
	}
	return &MongoRepository{col: col}, nil
}

func (r *MongoRepository) Append(ctx context.Context, rec *Record) error {
	if _, err := r.col.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *MongoRepository) Find(ctx context.Context, token string) (*Record, error) {
	var rec Record
	if err := r.col.FindOne(ctx, bson.M{"token": token}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rec, nil
}

func (r *MongoRepository) MarkRevoked(ctx context.Context, token string, at time.Time) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"token": token, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "revokedAt": at}},
	)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// nothing matched: either already revoked or unknown
	n, err := r.col.CountDocuments(ctx, bson.M{"token": token})
	if err != nil {
		return fmt.Errorf("count refresh token: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) ListByUser(ctx context.Context, username string) ([]*Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "issuedAt", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"username": username}, opts)
}

func (r *MongoRepository) All(ctx context.Context) ([]*Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "issuedAt", Value: 1}, {Key: "username", Value: 1}})
	return r.find(ctx, bson.M{}, opts)
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Record, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	defer cur.Close(ctx)
	out := []*Record{}
	for cur.Next(ctx) {
		var rec Record
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode refresh token: %w", err)
		}
		out = append(out, &rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return out, nil
}
