package types

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Cursor iterates over records returned by Storage.Find.
type Cursor interface {
	Next(ctx context.Context) bool
	// Current returns the record the cursor is positioned on.
	Current() (bson.M, error)
	Err() error
	Close(ctx context.Context) error
}

// IndexModel describes an index as the storage layer sees it.
type IndexModel struct {
	Name   string
	Keys   bson.D
	Unique bool
	Sparse bool
}

// Storage is the narrow command-execution capability the migration core
// needs from a document database.
type Storage interface {
	// ServerVersion returns the backend version, e.g. "6.0.4".
	ServerVersion(ctx context.Context) (string, error)

	Find(ctx context.Context, collection string, filter bson.M, batchSize int) (Cursor, error)
	// UpdateMany applies an update document (bson.M) or an update pipeline (bson.A).
	UpdateMany(ctx context.Context, collection string, filter bson.M, update any) (int64, error)
	// ReplaceMany writes whole records back by _id.
	ReplaceMany(ctx context.Context, collection string, docs []bson.M) error

	RenameCollection(ctx context.Context, from, to string) error
	DropCollection(ctx context.Context, name string) error

	CreateIndex(ctx context.Context, collection string, index IndexModel) error
	DropIndex(ctx context.Context, collection, name string) error

	Close(ctx context.Context) error
}
