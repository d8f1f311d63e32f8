// Package storage defines the sink interface for profiler rows.
package storage

import (
	"context"

	"github.com/skoulos/mal_analytics/pkg/models"
)

// Sink accepts typed row batches from the parser and answers the lookups the
// parser needs while normalizing. Implementations may batch writes
// internally; a row handed to Insert is not guaranteed durable until Close
// returns. Implementations must be safe for concurrent use.
type Sink interface {
	// StartingLimits reports the maximum id persisted per kind, zero when a
	// relation is empty. The parser seeds its counters from these.
	StartingLimits(ctx context.Context) (models.Limits, error)

	// Insert queues rows for persistence. Rows for different relations may
	// be mixed; relative order within the call is preserved.
	Insert(ctx context.Context, rows ...models.Row) error

	// LookupVariable resolves a variable name to the id persisted by an
	// earlier session, if any.
	LookupVariable(ctx context.Context, name string) (int64, bool, error)

	// LookupType resolves a type name against the fixed type catalog.
	LookupType(ctx context.Context, name string) (int64, bool, error)

	// Read side, used by the query API.
	ListExecutions(ctx context.Context, session string, limit, offset int) ([]models.Execution, error)
	ListEvents(ctx context.Context, executionID int64) ([]models.Event, error)
	ListHeartbeats(ctx context.Context, limit int) ([]models.Heartbeat, error)

	// Close flushes pending batches and releases resources.
	Close() error
}
