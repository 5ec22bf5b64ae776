package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"

	"go.pilab.hu/session/store"
)

// SessionsCollection holds one document per session slot.
const SessionsCollection = "client_sessions"

type sessionDoc struct {
	Key       string     `bson:"_id"`
	Value     string     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// Backend implements the store.Backend interface on MongoDB, one document
// per slot with a TTL index on the expiry field.
type Backend struct {
	coll *mongo.Collection
}

// Connect initializes the MongoDB client, verifies the connection and
// prepares the TTL index. Intended to be called once at startup.
func Connect(ctx context.Context, uri, dbName string) (*Backend, error) {
	log.Info().Str("db", dbName).Msg("Initializing MongoDB session backend")

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetMonitor(
		otelmongo.NewMonitor(),
	)

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary to verify connection.
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	backend := &Backend{coll: client.Database(dbName).Collection(SessionsCollection)}
	if err := backend.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return backend, nil
}

// NewBackend wraps an already-connected collection. Useful for tests and for
// applications managing their own client.
func NewBackend(coll *mongo.Collection) *Backend {
	return &Backend{coll: coll}
}

func (b *Backend) ensureIndexes(ctx context.Context) error {
	_, err := b.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create TTL index: %w", err)
	}
	return nil
}

// Set implements store.Backend.Set.
func (b *Backend) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	doc := sessionDoc{Key: key, Value: value}
	if !expiresAt.IsZero() {
		doc.ExpiresAt = &expiresAt
	}

	_, err := b.coll.ReplaceOne(ctx,
		bson.M{"_id": key},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session entry: %w", err)
	}
	return nil
}

// Get implements store.Backend.Get. Expired documents are reported absent
// even before the TTL monitor sweeps them.
func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	var doc sessionDoc
	err := b.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session entry: %w", err)
	}
	if doc.ExpiresAt != nil && time.Now().After(*doc.ExpiresAt) {
		return "", false, nil
	}
	return doc.Value, true, nil
}

// Remove implements store.Backend.Remove.
func (b *Backend) Remove(ctx context.Context, key string) error {
	if _, err := b.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete session entry: %w", err)
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)
