package updater

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/types"
)

// DefaultBatchSize bounds the number of records held in memory per batch.
const DefaultBatchSize = 1000

// Context carries what an action needs to touch stored records.
type Context struct {
	// Reader serves record iteration. Writer receives every mutation; it is
	// a separate handle so writes do not compete with an open cursor.
	Reader  types.Storage
	Writer  types.Storage
	Backend Backend
	Policy  types.Policy
	// BatchSize and Workers bound the per-record loop.
	BatchSize int
	Workers   int
	Log       logger.Logger
}

func (c *Context) batchSize() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

func (c *Context) workers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

func (c *Context) log() logger.Logger {
	if c.Log == nil {
		return logger.GetGlobalLogger()
	}
	return c.Log
}

// Record identifies the (sub)document handed to a per-record function.
type Record struct {
	Collection string
	ID         any
	// Path is the dotted location of the sub-document, "" for the record itself.
	Path string
	log  logger.Logger
}

// FieldPath returns the dotted path of a field of this (sub)document.
func (r Record) FieldPath(field string) string {
	if r.Path == "" {
		return field
	}
	return r.Path + "." + field
}

// Skipped logs a value left untouched under the relaxed policy.
func (r Record) Skipped(field string, value any, err error) {
	if r.log == nil {
		return
	}
	r.log.Warn("%s: record %v, field %s: leaving %v as is: %v", r.Collection, r.ID, r.FieldPath(field), value, err)
}

// Fail wraps err with the record location.
func (r Record) Fail(field string, err error) error {
	return types.NewRecordError(r.Collection, r.ID, r.FieldPath(field), err)
}

// Operation is one storage effect of an action, described both as a bulk
// command and as a per-record transformation.
type Operation struct {
	Name string
	// Requires lists the capabilities the bulk form needs.
	Requires []Capability
	// Bulk returns the filter and update for one target. ok is false when
	// the operation cannot run in bulk for that target or policy.
	Bulk func(t Target) (filter bson.M, update any, ok bool)
	// Record transforms one (sub)document in place and reports whether it changed.
	Record func(rec Record, doc bson.M) (bool, error)
	// Filter narrows the records read by the per-record loop.
	Filter bson.M
}

// Run applies op to every target, choosing a strategy per target.
func (c *Context) Run(ctx context.Context, targets []Target, op Operation) error {
	for _, t := range targets {
		s := c.Strategy(t, op)
		c.log().Debug("%s on %s using %s strategy", op.Name, t, s.Name())
		if err := s.Apply(ctx, c, t, op); err != nil {
			return err
		}
	}
	return nil
}

// Strategy returns the first registered strategy accepting the operation.
func (c *Context) Strategy(t Target, op Operation) Strategy {
	for _, s := range strategies {
		if s.Accepts(c, t, op) {
			return s
		}
	}
	return recordStrategy{}
}

// mergeFilters combines filters with $and, skipping empty ones.
func mergeFilters(filters ...bson.M) bson.M {
	var parts bson.A
	for _, f := range filters {
		if len(f) > 0 {
			parts = append(parts, f)
		}
	}
	switch len(parts) {
	case 0:
		return bson.M{}
	case 1:
		return parts[0].(bson.M)
	}
	return bson.M{"$and": parts}
}

func recordID(doc bson.M) any {
	if id, ok := doc["_id"]; ok {
		return id
	}
	return fmt.Sprintf("%p", doc)
}
