// Package mongo is a Remote backed by a MongoDB collection.
//
// Every record is one document in journal_records, unique by
// (owner, client_id). Upserts stamp created_at with the server's clock via
// $currentDate, so delta queries never depend on device clocks.
//
// MongoDB has no notion of an app user; the signed-in owner id is kept in a
// local flag and scopes every query.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mindlog/mindlog/internal/remote"
)

// CollectionName is the collection holding journal records.
const CollectionName = "journal_records"

// FlagOwner is the local flag holding the signed-in owner id.
const FlagOwner = "session_owner"

// SessionStore persists the owner id. *legacy.Store satisfies it.
type SessionStore interface {
	ReadFlag(name string) (string, bool)
	WriteFlag(name, value string) error
	RemoveFlag(name string) error
}

type recordDoc struct {
	Owner     string    `bson:"owner"`
	Partition string    `bson:"partition"`
	ClientID  string    `bson:"client_id"`
	Payload   string    `bson:"payload"`
	CreatedAt time.Time `bson:"created_at"`
}

// Store is a remote.Remote over MongoDB.
type Store struct {
	client  *mongo.Client
	coll    *mongo.Collection
	session SessionStore
	logger  *log.Logger
}

var _ remote.Remote = (*Store)(nil)

// Connect dials uri, verifies the connection and ensures indexes.
func Connect(ctx context.Context, uri, database string, session SessionStore, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[mongo] ", log.LstdFlags)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	s := &Store{
		client:  client,
		coll:    client.Database(database).Collection(CollectionName),
		session: session,
		logger:  logger,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique upsert key and the delta-query index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "client_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "owner", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SignIn makes owner the current user.
func (s *Store) SignIn(owner string) (remote.User, error) {
	if owner == "" {
		return remote.User{}, errors.New("owner id is required")
	}
	if err := s.session.WriteFlag(FlagOwner, owner); err != nil {
		return remote.User{}, fmt.Errorf("failed to store session: %w", err)
	}
	return remote.User{ID: owner}, nil
}

// CurrentUser implements remote.Remote.
func (s *Store) CurrentUser(ctx context.Context) (remote.User, error) {
	owner, ok := s.session.ReadFlag(FlagOwner)
	if !ok || owner == "" {
		return remote.User{}, remote.ErrNoSession
	}
	return remote.User{ID: owner}, nil
}

// Upsert implements remote.Remote.
func (s *Store) Upsert(ctx context.Context, rec remote.Record) error {
	if rec.ClientID == "" {
		return errors.New("client id is required")
	}
	filter := bson.M{"owner": rec.Owner, "client_id": rec.ClientID}
	update := bson.M{
		"$set": bson.M{
			"owner":     rec.Owner,
			"partition": rec.Partition,
			"client_id": rec.ClientID,
			"payload":   string(rec.Payload),
		},
		"$currentDate": bson.M{"created_at": true},
	}

	if _, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", remote.ErrUnavailable, rec.ClientID, err)
	}
	return nil
}

// QueryUpdatedSince implements remote.Remote.
func (s *Store) QueryUpdatedSince(ctx context.Context, owner string, since time.Time) ([]remote.Record, error) {
	filter := bson.M{"owner": owner, "created_at": bson.M{"$gt": since.UTC()}}
	return s.find(ctx, filter)
}

// QueryByPartitions implements remote.Remote.
func (s *Store) QueryByPartitions(ctx context.Context, owner string, partitions []string) ([]remote.Record, error) {
	filter := bson.M{"owner": owner, "partition": bson.M{"$in": partitions}}
	return s.find(ctx, filter)
}

// SignOut implements remote.Remote.
func (s *Store) SignOut(ctx context.Context) error {
	return s.session.RemoveFlag(FlagOwner)
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]remote.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer cursor.Close(ctx)

	records := []remote.Record{}
	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			s.logger.Printf("WARNING: skipping undecodable record: %v", err)
			continue
		}
		if !json.Valid([]byte(doc.Payload)) {
			s.logger.Printf("WARNING: skipping record %s: payload is not JSON", doc.ClientID)
			continue
		}
		records = append(records, remote.Record{
			Owner:     doc.Owner,
			Partition: doc.Partition,
			ClientID:  doc.ClientID,
			Payload:   json.RawMessage(doc.Payload),
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return records, nil
}
