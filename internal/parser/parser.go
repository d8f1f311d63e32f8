// Package parser normalizes MAL profiler records into relational rows.
//
// The profiler emits a stream of self-describing JSON objects: trace records
// (one executed instruction with its timing, dependencies and variables) and
// heartbeat records (periodic system sampling). The parser assigns stable
// surrogate identifiers across the stream, deduplicates variable
// declarations by name, and projects each record into flat rows for the
// configured sink. A bad record terminates only its own processing; the
// stream always makes forward progress.
//
// A Parser is single-threaded: callers feeding it from multiple goroutines
// must serialize access themselves, or the identifier uniqueness guarantees
// do not hold.
package parser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skoulos/mal_analytics/internal/storage"
	"github.com/skoulos/mal_analytics/pkg/models"
)

// Parser decodes, classifies and normalizes profiler objects.
type Parser struct {
	sink     storage.Sink
	alloc    *allocator
	registry *variableRegistry
	log      *slog.Logger
}

// Option configures a Parser.
type Option func(*options)

type options struct {
	scope  Scope
	logger *slog.Logger
}

// WithScope sets the variable deduplication scope. Default is ScopeSession.
func WithScope(scope Scope) Option {
	return func(o *options) { o.scope = scope }
}

// WithLogger sets the logger for recoverable failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a Parser whose counters resume from the sink's persisted
// maxima.
func New(ctx context.Context, sink storage.Sink, opts ...Option) (*Parser, error) {
	o := options{scope: ScopeSession, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	limits, err := sink.StartingLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading starting limits: %w", err)
	}

	alloc := newAllocator(limits)
	return &Parser{
		sink:     sink,
		alloc:    alloc,
		registry: newVariableRegistry(sink, alloc, o.scope),
		log:      o.logger,
	}, nil
}

// Parse decodes one raw profiler object and dispatches it to the matching
// normalizer. Undecodable or unrecognized objects are logged, reported and
// dropped; the returned error never means the stream has to stop.
func (p *Parser) Parse(ctx context.Context, raw []byte) error {
	obj, err := decode(raw)
	if err != nil {
		p.log.Warn("dropping profiler object", "reason", err)
		return err
	}

	switch {
	case obj.trace != nil:
		p.parseTrace(ctx, obj.trace)
	case obj.heartbeat != nil:
		p.parseHeartbeat(ctx, obj.heartbeat)
	}
	return nil
}

// Limits snapshots the current counter state for checkpointing.
func (p *Parser) Limits() models.Limits {
	return p.alloc.limits()
}
