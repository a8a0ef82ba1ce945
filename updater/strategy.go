package updater

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/rediwo/redi-migrate/types"
)

// Strategy carries out an operation against one target.
type Strategy interface {
	Name() string
	// Accepts is the capability predicate deciding whether the strategy applies.
	Accepts(c *Context, t Target, op Operation) bool
	Apply(ctx context.Context, c *Context, t Target, op Operation) error
}

// strategies are tried in order; the record loop accepts everything.
var strategies = []Strategy{bulkStrategy{}, recordStrategy{}}

type bulkStrategy struct{}

func (bulkStrategy) Name() string { return "bulk" }

func (bulkStrategy) Accepts(c *Context, t Target, op Operation) bool {
	if op.Bulk == nil || t.Iterates() {
		return false
	}
	if !c.Backend.Supports(op.Requires...) {
		return false
	}
	_, _, ok := op.Bulk(t)
	return ok
}

func (bulkStrategy) Apply(ctx context.Context, c *Context, t Target, op Operation) error {
	filter, update, _ := op.Bulk(t)
	n, err := c.Writer.UpdateMany(ctx, t.Collection, mergeFilters(t.Filter, filter), update)
	if err != nil {
		return types.WrapActionError(err, "%s on %s", op.Name, t)
	}
	c.log().Debug("%s on %s: %d records modified", op.Name, t, n)
	return nil
}

type recordStrategy struct{}

func (recordStrategy) Name() string { return "record" }

func (recordStrategy) Accepts(_ *Context, _ Target, op Operation) bool { return op.Record != nil }

// Apply reads records in batches and transforms each batch on a worker.
// Cancellation stops reading; batches already dispatched still write.
func (recordStrategy) Apply(ctx context.Context, c *Context, t Target, op Operation) error {
	if op.Record == nil {
		return nil
	}
	cur, err := c.Reader.Find(ctx, t.Collection, mergeFilters(t.Filter, op.Filter), c.batchSize())
	if err != nil {
		return types.WrapActionError(err, "read %s", t.Collection)
	}
	defer cur.Close(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())

	batch := make([]bson.M, 0, c.batchSize())
	dispatch := func(docs []bson.M) {
		g.Go(func() error { return c.processBatch(gctx, t, op, docs) })
	}

	for cur.Next(gctx) {
		doc, err := cur.Current()
		if err != nil {
			_ = g.Wait()
			return types.WrapActionError(err, "decode record from %s", t.Collection)
		}
		batch = append(batch, doc)
		if len(batch) == c.batchSize() {
			dispatch(batch)
			batch = make([]bson.M, 0, c.batchSize())
		}
	}
	if len(batch) > 0 && gctx.Err() == nil {
		dispatch(batch)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cur.Err(); err != nil {
		return types.WrapActionError(err, "iterate %s", t.Collection)
	}
	return nil
}

// processBatch transforms every record and writes back those that changed.
// A failing record aborts the batch before anything is written.
func (c *Context) processBatch(ctx context.Context, t Target, op Operation, docs []bson.M) error {
	changed := make([]bson.M, 0, len(docs))
	for _, doc := range docs {
		id := recordID(doc)
		modified := false
		err := walk(doc, t.Path, "", func(sub bson.M, at string) error {
			ok, err := op.Record(Record{Collection: t.Collection, ID: id, Path: at, log: c.log()}, sub)
			modified = modified || ok
			return err
		})
		if err != nil {
			return err
		}
		if modified {
			changed = append(changed, doc)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	// the batch is complete, so its writes go through even when ctx is cancelled
	if err := c.Writer.ReplaceMany(context.WithoutCancel(ctx), t.Collection, changed); err != nil {
		return types.WrapActionError(err, "write %d records to %s", len(changed), t.Collection)
	}
	c.log().Debug("%s on %s: %d of %d records changed", op.Name, t, len(changed), len(docs))
	return nil
}
