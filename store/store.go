// Package store persists run states between driver invocations. Two
// implementations ship: a SQLite database for the CLI and a plain
// directory of JSON documents for embedders that want no database.
package store

import (
	"context"
	"errors"
	"time"

	loom "github.com/everydev1618/goloom"
)

// ErrRunNotFound is returned when loading or inspecting an unknown run.
var ErrRunNotFound = errors.New("run not found")

// RunInfo is one row of a run listing.
type RunInfo struct {
	ID        string      `json:"id"`
	Status    loom.Status `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Store is the persistence surface the CLI drives. SaveRun is an upsert
// keyed by the run ID and also satisfies loom.Snapshotter.
type Store interface {
	SaveRun(ctx context.Context, st *loom.State) error
	LoadRun(ctx context.Context, id string) (*loom.State, error)
	ListRuns(ctx context.Context) ([]RunInfo, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}
