package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

// DefaultStateCollection holds the engine state unless configured otherwise.
const DefaultStateCollection = "mongoengine_migrate"

// Record ids and kinds of the state collection.
const (
	schemaID  = "schema"
	lockID    = "lock"
	counterID = "counter"

	kindSchema    = "schema"
	kindLock      = "lock"
	kindCounter   = "counter"
	kindMigration = "migration"
)

type schemaRecord struct {
	ID       string          `bson:"_id"`
	Kind     string          `bson:"kind"`
	Schema   schema.State    `bson:"schema"`
	Progress *state.Progress `bson:"progress"`
}

type migrationRecord struct {
	ID        string    `bson:"_id"`
	Kind      string    `bson:"kind"`
	Applied   bool      `bson:"applied"`
	AppliedAt time.Time `bson:"applied_at"`
	Seq       int64     `bson:"seq"`
}

type lockRecord struct {
	Owner     string    `bson:"owner"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// StateStore keeps engine state as records of one MongoDB collection.
type StateStore struct {
	coll *mongo.Collection
	// own is set when the store opened the client itself.
	own bool
	now func() time.Time
}

var _ state.Store = (*StateStore)(nil)

// OpenStateStore connects to the database named in nativeURI.
func OpenStateStore(ctx context.Context, nativeURI, collection string) (*StateStore, error) {
	client, dbName, err := connect(ctx, nativeURI)
	if err != nil {
		return nil, err
	}
	s := NewStateStore(client.Database(dbName), collection)
	s.own = true
	return s, nil
}

// NewStateStore uses collection of an already connected database.
func NewStateStore(db *mongo.Database, collection string) *StateStore {
	if collection == "" {
		collection = DefaultStateCollection
	}
	return &StateStore{coll: db.Collection(collection), now: time.Now}
}

func (s *StateStore) LoadSchema(ctx context.Context) (schema.State, *state.Progress, error) {
	var rec schemaRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": schemaID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return schema.State{}, nil, nil
	}
	if err != nil {
		return nil, nil, types.WrapActionError(err, "load schema record")
	}
	if rec.Schema == nil {
		rec.Schema = schema.State{}
	}
	return rec.Schema.Normalized(), rec.Progress, nil
}

// SaveSchema replaces the schema record in a single write, so schema and
// progress always change together.
func (s *StateStore) SaveSchema(ctx context.Context, st schema.State, p *state.Progress) error {
	if st == nil {
		st = schema.State{}
	}
	rec := schemaRecord{ID: schemaID, Kind: kindSchema, Schema: st, Progress: p}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": schemaID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return types.WrapActionError(err, "save schema record")
	}
	return nil
}

func (s *StateStore) AppliedMigrations(ctx context.Context) ([]state.AppliedRecord, error) {
	cur, err := s.coll.Find(ctx, bson.M{"kind": kindMigration, "applied": true},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, types.WrapActionError(err, "load migration records")
	}
	var recs []migrationRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, types.WrapActionError(err, "decode migration records")
	}
	out := make([]state.AppliedRecord, len(recs))
	for i, r := range recs {
		out[i] = state.AppliedRecord{Name: r.ID, AppliedAt: r.AppliedAt.UTC(), Seq: r.Seq}
	}
	return out, nil
}

func (s *StateStore) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": counterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}, "$set": bson.M{"kind": kindCounter}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, types.WrapActionError(err, "advance migration counter")
	}
	return counter.Seq, nil
}

func (s *StateStore) MarkApplied(ctx context.Context, name string) error {
	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}
	rec := migrationRecord{ID: name, Kind: kindMigration, Applied: true, AppliedAt: s.now().UTC(), Seq: seq}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.GraphErrorf("migration %s is already applied", name)
		}
		return types.WrapActionError(err, "record migration %s", name)
	}
	return nil
}

func (s *StateStore) MarkUnapplied(ctx context.Context, name string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": name, "kind": kindMigration})
	if err != nil {
		return types.WrapActionError(err, "remove migration record %s", name)
	}
	if res.DeletedCount == 0 {
		return types.GraphErrorf("migration %s is not applied", name)
	}
	return nil
}

// lockFilter matches the lock record when owner may take it: it already
// holds the lease or the lease has expired.
func lockFilter(owner string, now time.Time) bson.M {
	return bson.M{
		"_id": lockID,
		"$or": bson.A{
			bson.M{"owner": owner},
			bson.M{"expires_at": bson.M{"$lt": now}},
		},
	}
}

// AcquireLock upserts the lock record. When another owner holds a live
// lease the filter misses and the upsert collides on _id.
func (s *StateStore) AcquireLock(ctx context.Context, owner string, ttl time.Duration) error {
	now := s.now().UTC()
	update := bson.M{"$set": bson.M{"kind": kindLock, "owner": owner, "expires_at": now.Add(ttl)}}
	_, err := s.coll.UpdateOne(ctx, lockFilter(owner, now), update, options.Update().SetUpsert(true))
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return types.WrapActionError(err, "acquire migration lock")
	}
	var held lockRecord
	if err := s.coll.FindOne(ctx, bson.M{"_id": lockID}).Decode(&held); err != nil {
		return types.WrapActionError(err, "read migration lock")
	}
	return state.LockHeldError(held.Owner, held.ExpiresAt)
}

func (s *StateStore) ReleaseLock(ctx context.Context, owner string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": lockID, "owner": owner}); err != nil {
		return types.WrapActionError(err, "release migration lock")
	}
	return nil
}

// Close disconnects the client when the store opened it.
func (s *StateStore) Close(ctx context.Context) error {
	if !s.own {
		return nil
	}
	return s.coll.Database().Client().Disconnect(ctx)
}
