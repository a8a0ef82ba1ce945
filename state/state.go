// Package state defines where the migration engine keeps its own
// bookkeeping: the current schema, the in-flight progress marker, the
// applied-migration history and the run lock.
package state

import (
	"context"
	"time"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// Progress marks how far a migration got before the process stopped.
type Progress struct {
	Migration string          `json:"migration" bson:"migration"`
	Direction types.Direction `json:"direction" bson:"direction"`
	// Completed counts the actions of the migration already applied.
	Completed int `json:"completed" bson:"completed"`
}

// AppliedRecord is one entry of the applied-migration history.
type AppliedRecord struct {
	Name      string    `json:"name" bson:"name"`
	AppliedAt time.Time `json:"applied_at" bson:"applied_at"`
	Seq       int64     `json:"seq" bson:"seq"`
}

// Store persists engine state. Implementations must make SaveSchema atomic
// for the schema and progress pair.
type Store interface {
	// LoadSchema returns the stored schema and progress. A store that was
	// never written returns an empty schema and nil progress.
	LoadSchema(ctx context.Context) (schema.State, *Progress, error)
	// SaveSchema replaces the stored schema. A nil progress clears the marker.
	SaveSchema(ctx context.Context, s schema.State, p *Progress) error

	// AppliedMigrations returns the history in application order.
	AppliedMigrations(ctx context.Context) ([]AppliedRecord, error)
	MarkApplied(ctx context.Context, name string) error
	MarkUnapplied(ctx context.Context, name string) error

	// AcquireLock takes the run lock for owner. A lock held by another owner
	// whose lease has not expired yields a graph error.
	AcquireLock(ctx context.Context, owner string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, owner string) error

	Close(ctx context.Context) error
}

// LockHeldError is returned by AcquireLock implementations.
func LockHeldError(owner string, until time.Time) error {
	return types.GraphErrorf("migration lock held by %s until %s", owner, until.UTC().Format(time.RFC3339))
}

// IsApplied reports whether name appears in the history.
func IsApplied(history []AppliedRecord, name string) bool {
	for _, r := range history {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Names returns the migration names of the history, in order.
func Names(history []AppliedRecord) []string {
	out := make([]string, len(history))
	for i, r := range history {
		out[i] = r.Name
	}
	return out
}
