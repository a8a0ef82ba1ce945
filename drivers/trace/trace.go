// Package trace records the storage mutations a migration would issue.
package trace

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/types"
)

// Storage forwards reads to an inner storage and records every write as a
// types.Command. In pass-through mode writes are also executed.
type Storage struct {
	inner       types.Storage
	passThrough bool
	log         logger.Logger

	mu       sync.Mutex
	commands []types.Command
}

// Option configures a tracing storage.
type Option func(*Storage)

// PassThrough executes writes on the inner storage after recording them.
func PassThrough() Option {
	return func(s *Storage) { s.passThrough = true }
}

// WithLogger logs each recorded command at info level.
func WithLogger(l logger.Logger) Option {
	return func(s *Storage) { s.log = l }
}

// New wraps inner.
func New(inner types.Storage, opts ...Option) *Storage {
	s := &Storage{inner: inner}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ types.Storage = (*Storage)(nil)

// Commands returns the recorded commands in issue order.
func (s *Storage) Commands() []types.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Command(nil), s.commands...)
}

// Reset discards the recorded commands.
func (s *Storage) Reset() {
	s.mu.Lock()
	s.commands = nil
	s.mu.Unlock()
}

func (s *Storage) record(c types.Command) {
	s.mu.Lock()
	s.commands = append(s.commands, c)
	s.mu.Unlock()
	if s.log != nil {
		s.log.Info("* %s", c.String())
	}
}

func (s *Storage) ServerVersion(ctx context.Context) (string, error) {
	return s.inner.ServerVersion(ctx)
}

func (s *Storage) Find(ctx context.Context, collection string, filter bson.M, batchSize int) (types.Cursor, error) {
	return s.inner.Find(ctx, collection, filter, batchSize)
}

func (s *Storage) UpdateMany(ctx context.Context, collection string, filter bson.M, update any) (int64, error) {
	s.record(types.Command{Operation: "updateMany", Collection: collection, Filter: filter, Update: update})
	if s.passThrough {
		return s.inner.UpdateMany(ctx, collection, filter, update)
	}
	return 0, nil
}

func (s *Storage) ReplaceMany(ctx context.Context, collection string, docs []bson.M) error {
	ids := make(bson.A, len(docs))
	for i, d := range docs {
		ids[i] = d["_id"]
	}
	s.record(types.Command{Operation: "replaceMany", Collection: collection, Filter: bson.M{"_id": bson.M{"$in": ids}}, Documents: len(docs)})
	if s.passThrough {
		return s.inner.ReplaceMany(ctx, collection, docs)
	}
	return nil
}

func (s *Storage) RenameCollection(ctx context.Context, from, to string) error {
	s.record(types.Command{Operation: "renameCollection", Collection: from, Target: to})
	if s.passThrough {
		return s.inner.RenameCollection(ctx, from, to)
	}
	return nil
}

func (s *Storage) DropCollection(ctx context.Context, name string) error {
	s.record(types.Command{Operation: "drop", Collection: name})
	if s.passThrough {
		return s.inner.DropCollection(ctx, name)
	}
	return nil
}

func (s *Storage) CreateIndex(ctx context.Context, collection string, index types.IndexModel) error {
	opts := bson.M{"name": index.Name, "keys": index.Keys}
	if index.Unique {
		opts["unique"] = true
	}
	if index.Sparse {
		opts["sparse"] = true
	}
	s.record(types.Command{Operation: "createIndex", Collection: collection, Target: index.Name, Options: opts})
	if s.passThrough {
		return s.inner.CreateIndex(ctx, collection, index)
	}
	return nil
}

func (s *Storage) DropIndex(ctx context.Context, collection, name string) error {
	s.record(types.Command{Operation: "dropIndex", Collection: collection, Target: name})
	if s.passThrough {
		return s.inner.DropIndex(ctx, collection, name)
	}
	return nil
}

// Close closes the inner storage.
func (s *Storage) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}
