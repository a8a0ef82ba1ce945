// Package memory provides an in-process document store and state store.
// It serves dry runs against snapshots and the test suites.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tiendc/go-deepcopy"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// DefaultVersion is the server version reported unless overridden. It
// supports update operators but not update pipelines.
const DefaultVersion = "4.0.0"

// Storage keeps collections of records in memory.
type Storage struct {
	mu          sync.RWMutex
	version     string
	collections map[string][]bson.M
	indexes     map[string]map[string]types.IndexModel
}

// Option configures a Storage.
type Option func(*Storage)

// WithVersion sets the reported server version.
func WithVersion(v string) Option {
	return func(s *Storage) { s.version = v }
}

// NewStorage creates an empty store.
func NewStorage(opts ...Option) *Storage {
	s := &Storage{
		version:     DefaultVersion,
		collections: make(map[string][]bson.M),
		indexes:     make(map[string]map[string]types.IndexModel),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ types.Storage = (*Storage)(nil)

// Insert adds records to a collection, assigning an ObjectID to those
// without an _id.
func (s *Storage) Insert(collection string, docs ...bson.M) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		c := clone(d)
		if _, ok := c["_id"]; !ok {
			c["_id"] = primitive.NewObjectID()
		}
		s.collections[collection] = append(s.collections[collection], c)
	}
}

// Records returns copies of the records of a collection in insertion order.
func (s *Storage) Records(collection string) []bson.M {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.collections[collection]
	out := make([]bson.M, len(src))
	for i, d := range src {
		out[i] = clone(d)
	}
	return out
}

// Collections returns the names of the existing collections.
func (s *Storage) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.collections))
	for name := range s.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Indexes returns the indexes of a collection keyed by name.
func (s *Storage) Indexes(collection string) map[string]types.IndexModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.IndexModel, len(s.indexes[collection]))
	for k, v := range s.indexes[collection] {
		out[k] = v
	}
	return out
}

func (s *Storage) ServerVersion(context.Context) (string, error) {
	return s.version, nil
}

func (s *Storage) Find(ctx context.Context, collection string, filter bson.M, batchSize int) (types.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []bson.M
	for _, d := range s.collections[collection] {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, clone(d))
		}
	}
	return &cursor{docs: docs, pos: -1}, nil
}

func (s *Storage) UpdateMany(ctx context.Context, collection string, filter bson.M, update any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ops, ok := update.(bson.M)
	if !ok {
		return 0, fmt.Errorf("memory storage supports update documents only, got %T", update)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i, d := range s.collections[collection] {
		ok, err := Match(d, filter)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		next := clone(d)
		if err := applyUpdate(next, ops); err != nil {
			return n, err
		}
		s.collections[collection][i] = next
		n++
	}
	return n, nil
}

func (s *Storage) ReplaceMany(ctx context.Context, collection string, docs []bson.M) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.collections[collection]
	for _, d := range docs {
		id, ok := d["_id"]
		if !ok {
			return fmt.Errorf("replace in %s: record without _id", collection)
		}
		found := false
		for i, existing := range records {
			if schema.ValuesEqual(existing["_id"], id) {
				records[i] = clone(d)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("replace in %s: no record with _id %v", collection, id)
		}
	}
	return nil
}

func (s *Storage) RenameCollection(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[to]; exists {
		return fmt.Errorf("rename %s: target collection %s exists", from, to)
	}
	if docs, ok := s.collections[from]; ok {
		s.collections[to] = docs
		delete(s.collections, from)
	}
	if idx, ok := s.indexes[from]; ok {
		s.indexes[to] = idx
		delete(s.indexes, from)
	}
	return nil
}

func (s *Storage) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	delete(s.indexes, name)
	return nil
}

func (s *Storage) CreateIndex(ctx context.Context, collection string, index types.IndexModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index.Unique {
		if err := s.checkUnique(collection, index); err != nil {
			return err
		}
	}
	if s.indexes[collection] == nil {
		s.indexes[collection] = make(map[string]types.IndexModel)
	}
	s.indexes[collection][index.Name] = index
	return nil
}

func (s *Storage) checkUnique(collection string, index types.IndexModel) error {
	seen := make(map[string]bool)
	for _, d := range s.collections[collection] {
		parts := make([]string, len(index.Keys))
		missing := 0
		for i, k := range index.Keys {
			v, ok := Lookup(d, k.Key)
			if !ok {
				missing++
			}
			parts[i] = fmt.Sprintf("%v", schema.NormalizeValue(v))
		}
		if index.Sparse && missing == len(index.Keys) {
			continue
		}
		key := strings.Join(parts, "\x00")
		if seen[key] {
			return fmt.Errorf("create index %s on %s: duplicate key %s", index.Name, collection, key)
		}
		seen[key] = true
	}
	return nil
}

func (s *Storage) DropIndex(ctx context.Context, collection, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[collection][name]; !ok {
		return fmt.Errorf("drop index %s on %s: index not found", name, collection)
	}
	delete(s.indexes[collection], name)
	return nil
}

func (s *Storage) Close(context.Context) error { return nil }

type cursor struct {
	docs []bson.M
	pos  int
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *cursor) Current() (bson.M, error) {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil, fmt.Errorf("cursor is not positioned on a record")
	}
	return c.docs[c.pos], nil
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close(context.Context) error { return nil }

func clone(d bson.M) bson.M {
	var out bson.M
	if err := deepcopy.Copy(&out, d); err != nil {
		panic(fmt.Sprintf("memory: copy record: %v", err))
	}
	return out
}
