// Package mongodb runs migrations against MongoDB and keeps the engine state
// in a MongoDB collection.
package mongodb

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/registry"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

func init() {
	driverType := types.DriverMongoDB

	registry.Register(driverType, func(ctx context.Context, uri string, log logger.Logger) (types.Storage, error) {
		return Open(ctx, uri, log)
	})
	registry.RegisterState(driverType, func(ctx context.Context, uri, collection string) (state.Store, error) {
		return OpenStateStore(ctx, uri, collection)
	})
	registry.RegisterURIParser(driverType, NewMongoDBURIParser())
}

// connect creates a client for nativeURI and verifies it with a ping.
func connect(ctx context.Context, nativeURI string) (*mongo.Client, string, error) {
	dbName := extractDatabaseName(nativeURI)
	if dbName == "" {
		return nil, "", fmt.Errorf("database name is required in MongoDB URI")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(nativeURI))
	if err != nil {
		return nil, "", types.WrapActionError(err, "connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, "", types.WrapActionError(err, "ping MongoDB")
	}
	return client, dbName, nil
}

// Storage implements types.Storage on a MongoDB database.
type Storage struct {
	client *mongo.Client
	db     *mongo.Database
	log    logger.Logger
}

var _ types.Storage = (*Storage)(nil)

// Open connects to the database named in nativeURI.
func Open(ctx context.Context, nativeURI string, log logger.Logger) (*Storage, error) {
	client, dbName, err := connect(ctx, nativeURI)
	if err != nil {
		return nil, err
	}
	return NewStorage(client.Database(dbName), log), nil
}

// NewStorage wraps an already connected database.
func NewStorage(db *mongo.Database, log logger.Logger) *Storage {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Storage{client: db.Client(), db: db, log: log}
}

// ServerVersion reads the version from the buildInfo command.
func (s *Storage) ServerVersion(ctx context.Context) (string, error) {
	var info struct {
		Version string `bson:"version"`
	}
	if err := s.db.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info); err != nil {
		return "", types.WrapActionError(err, "buildInfo")
	}
	return info.Version, nil
}

func (s *Storage) Find(ctx context.Context, collection string, filter bson.M, batchSize int) (types.Cursor, error) {
	if filter == nil {
		filter = bson.M{}
	}
	opts := options.Find()
	if batchSize > 0 {
		opts.SetBatchSize(int32(batchSize))
	}
	cur, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, types.WrapActionError(err, "find in %s", collection)
	}
	return &cursor{cur: cur}, nil
}

func (s *Storage) UpdateMany(ctx context.Context, collection string, filter bson.M, update any) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	res, err := s.db.Collection(collection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, types.WrapActionError(err, "updateMany on %s", collection)
	}
	s.log.Debug("updateMany on %s matched %d, modified %d", collection, res.MatchedCount, res.ModifiedCount)
	return res.ModifiedCount, nil
}

// ReplaceMany replaces each record by _id in one unordered bulk write.
func (s *Storage) ReplaceMany(ctx context.Context, collection string, docs []bson.M) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		id, ok := d["_id"]
		if !ok {
			return types.WrapActionError(fmt.Errorf("record without _id"), "replace in %s", collection)
		}
		models = append(models, mongo.NewReplaceOneModel().SetFilter(bson.M{"_id": id}).SetReplacement(d))
	}
	_, err := s.db.Collection(collection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return types.WrapActionError(err, "bulk replace in %s", collection)
	}
	return nil
}

// RenameCollection runs renameCollection against the admin database, which
// is where the command must be issued.
func (s *Storage) RenameCollection(ctx context.Context, from, to string) error {
	cmd := bson.D{
		{Key: "renameCollection", Value: s.db.Name() + "." + from},
		{Key: "to", Value: s.db.Name() + "." + to},
	}
	if err := s.client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		// a collection that was never written does not exist yet
		if isNamespaceNotFound(err) {
			s.log.Debug("rename %s: collection does not exist", from)
			return nil
		}
		return types.WrapActionError(err, "rename %s to %s", from, to)
	}
	return nil
}

func (s *Storage) DropCollection(ctx context.Context, name string) error {
	if err := s.db.Collection(name).Drop(ctx); err != nil {
		return types.WrapActionError(err, "drop %s", name)
	}
	return nil
}

func (s *Storage) CreateIndex(ctx context.Context, collection string, index types.IndexModel) error {
	_, err := s.db.Collection(collection).Indexes().CreateOne(ctx, indexModel(index))
	if err != nil {
		return types.WrapActionError(err, "create index %s on %s", index.Name, collection)
	}
	return nil
}

func indexModel(index types.IndexModel) mongo.IndexModel {
	opts := options.Index().SetName(index.Name)
	if index.Unique {
		opts.SetUnique(true)
	}
	if index.Sparse {
		opts.SetSparse(true)
	}
	return mongo.IndexModel{Keys: index.Keys, Options: opts}
}

func (s *Storage) DropIndex(ctx context.Context, collection, name string) error {
	if _, err := s.db.Collection(collection).Indexes().DropOne(ctx, name); err != nil {
		if isNamespaceNotFound(err) || isIndexNotFound(err) {
			s.log.Debug("drop index %s on %s: not found", name, collection)
			return nil
		}
		return types.WrapActionError(err, "drop index %s on %s", name, collection)
	}
	return nil
}

// Close disconnects the client.
func (s *Storage) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

const (
	codeNamespaceNotFound = 26
	codeIndexNotFound     = 27
)

func commandCode(err error) (int32, bool) {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

func isNamespaceNotFound(err error) bool {
	code, ok := commandCode(err)
	return ok && code == codeNamespaceNotFound
}

func isIndexNotFound(err error) bool {
	code, ok := commandCode(err)
	return ok && code == codeIndexNotFound
}

// cursor adapts *mongo.Cursor to types.Cursor.
type cursor struct {
	cur *mongo.Cursor
}

func (c *cursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

func (c *cursor) Current() (bson.M, error) {
	var doc bson.M
	if err := c.cur.Decode(&doc); err != nil {
		return nil, types.WrapActionError(err, "decode record")
	}
	return doc, nil
}

func (c *cursor) Err() error { return c.cur.Err() }

func (c *cursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
