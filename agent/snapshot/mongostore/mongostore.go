// Package mongostore persists snapshot.Snapshot values in MongoDB
// (go.mongodb.org/mongo-driver/v2) for deployments that opt into
// cross-process resumption. It keeps the usual split between a
// storage-agnostic Store interface and a concrete Mongo-backed
// implementation living in its own subpackage.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentcore-dev/runtime/agent/snapshot"
)

// document is the BSON-facing shape stored in Mongo. Snapshot itself already
// has a stable JSON encoding (snapshot.Encode); storing it as a single
// binary/raw field avoids needing a second, BSON-specific schema for every
// nested type.
type document struct {
	ID   string `bson:"_id"`
	Data []byte `bson:"data"`
}

// Store persists snapshots in a single MongoDB collection, keyed by
// Snapshot.ID.
type Store struct {
	collection *mongo.Collection
}

// New returns a Store backed by the given collection. Callers are
// responsible for connecting the underlying *mongo.Client and selecting the
// database/collection (see the package-level tests for the construction
// pattern).
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// Save implements snapshot.Store by upserting the document keyed on
// Snapshot.ID.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return fmt.Errorf("mongostore: encode snapshot: %w", err)
	}
	_, err = s.collection.ReplaceOne(
		ctx,
		bson.M{"_id": snap.ID},
		document{ID: snap.ID, Data: data},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongostore: save snapshot %q: %w", snap.ID, err)
	}
	return nil
}

// Load implements snapshot.Store.
func (s *Store) Load(ctx context.Context, id string) (snapshot.Snapshot, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("mongostore: load snapshot %q: %w", id, err)
	}
	return snapshot.Decode(doc.Data)
}

var _ snapshot.Store = (*Store)(nil)
