package parser

import "github.com/skoulos/mal_analytics/pkg/models"

// idKind selects one of the four independent identifier counters.
type idKind int

const (
	executionID idKind = iota
	eventID
	variableID
	heartbeatID
)

// allocator hands out surrogate identifiers. Each counter is seeded with the
// maximum id the sink has already persisted, so a resumed session never
// repeats a value. Not safe for concurrent use; the parser owns it.
type allocator struct {
	execution int64
	event     int64
	variable  int64
	heartbeat int64
}

func newAllocator(lim models.Limits) *allocator {
	return &allocator{
		execution: lim.MaxExecutionID,
		event:     lim.MaxEventID,
		variable:  lim.MaxVariableID,
		heartbeat: lim.MaxHeartbeatID,
	}
}

// next increments and returns the counter for the given kind.
func (a *allocator) next(kind idKind) int64 {
	switch kind {
	case executionID:
		a.execution++
		return a.execution
	case eventID:
		a.event++
		return a.event
	case variableID:
		a.variable++
		return a.variable
	case heartbeatID:
		a.heartbeat++
		return a.heartbeat
	}
	panic("parser: unknown id kind")
}

// limits snapshots the current counter state for checkpointing.
func (a *allocator) limits() models.Limits {
	return models.Limits{
		MaxExecutionID: a.execution,
		MaxEventID:     a.event,
		MaxVariableID:  a.variable,
		MaxHeartbeatID: a.heartbeat,
	}
}
