// Package models defines the relational records produced by the profiler
// ingestion engine.
//
// Every record maps to exactly one row in one of the output relations. The
// engine only ever creates rows; updates and deletions are a storage concern.
package models

import "errors"

// ErrNotFound is returned when a requested item is not found.
// Storage implementations wrap this error when an item doesn't exist.
var ErrNotFound = errors.New("not found")

// Row is a typed record destined for a named relation. Sinks receive rows
// and decide how to serialize and batch them.
type Row interface {
	Table() string
}

// ExecutionState is the closed enumeration of MAL instruction states.
type ExecutionState int32

const (
	StateStart ExecutionState = 0
	StateDone  ExecutionState = 1
	StatePause ExecutionState = 2
)

// String returns the profiler token for the state.
func (s ExecutionState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateDone:
		return "done"
	case StatePause:
		return "pause"
	default:
		return "unknown"
	}
}

// ParseState maps a profiler state token to its enum value. Unrecognized
// tokens report ok=false; callers store the state as absent rather than
// failing the record.
func ParseState(token string) (ExecutionState, bool) {
	switch token {
	case "start":
		return StateStart, true
	case "done":
		return StateDone, true
	case "pause":
		return StatePause, true
	default:
		return 0, false
	}
}

// Execution is one MAL plan execution. One row per trace record.
type Execution struct {
	ExecutionID   int64  `json:"execution_id"`
	ServerSession string `json:"server_session"`
	Tag           int64  `json:"tag"`
}

func (Execution) Table() string { return "mal_execution" }

// Event is one executed MAL instruction. State is nil when the profiler
// reported a token outside the closed enumeration.
type Event struct {
	EventID        int64           `json:"event_id"`
	ExecutionID    int64           `json:"mal_execution_id"`
	PC             int64           `json:"pc"`
	State          *ExecutionState `json:"execution_state"`
	Clk            int64           `json:"clk"`
	CTime          int64           `json:"ctime"`
	Thread         int64           `json:"thread"`
	Function       string          `json:"mal_function"`
	Usec           int64           `json:"usec"`
	RSS            int64           `json:"rss"`
	TypeSize       int64           `json:"type_size"`
	LongStatement  string          `json:"long_statement"`
	ShortStatement string          `json:"short_statement"`
}

func (Event) Table() string { return "profiler_event" }

// PrerequisiteEdge links an event to one of its data dependencies. The
// prerequisite side is recorded as given, with no existence check: it may
// name an event the stream has not delivered, or never will.
type PrerequisiteEdge struct {
	PrerequisiteEvent int64 `json:"prerequisite_event"`
	ConsequentEvent   int64 `json:"consequent_event"`
}

func (PrerequisiteEdge) Table() string { return "prerequisite_events" }

// Variable is one named MAL variable. A name resolves to at most one row per
// registry scope (see the parser package).
type Variable struct {
	VariableID   int64  `json:"variable_id"`
	Name         string `json:"name"`
	ExecutionID  int64  `json:"mal_execution_id"`
	Alias        string `json:"alias"`
	TypeID       int64  `json:"type_id"`
	IsPersistent bool   `json:"is_persistent"`
	BID          int64  `json:"bid"`
	Count        int64  `json:"var_count"`
	Size         int64  `json:"var_size"`
	SeqBase      int64  `json:"seqbase"`
	HghBase      int64  `json:"hghbase"`
	EndOfLife    bool   `json:"end_of_life"`
}

func (Variable) Table() string { return "mal_variable" }

// VariableListKind selects which of the two list relations an entry
// belongs to.
type VariableListKind int

const (
	ArgumentList VariableListKind = iota
	ReturnList
)

// VariableListEntry links an event to one of its variables in declared
// order. Argument and return lists are stored in separate relations.
type VariableListEntry struct {
	Kind       VariableListKind `json:"-"`
	ListIndex  int64            `json:"variable_list_index"`
	EventID    int64            `json:"event_id"`
	VariableID int64            `json:"variable_id"`
}

func (e VariableListEntry) Table() string {
	if e.Kind == ReturnList {
		return "return_variable_list"
	}
	return "argument_variable_list"
}

// Heartbeat is one periodic system sample.
type Heartbeat struct {
	HeartbeatID   int64  `json:"heartbeat_id"`
	ServerSession string `json:"server_session"`
	Clk           int64  `json:"clk"`
	CTime         int64  `json:"ctime"`
	RSS           int64  `json:"rss"`
	NVCSw         int64  `json:"nvcsw"`
}

func (Heartbeat) Table() string { return "heartbeat" }

// CPULoadSample is one per-core load value from a heartbeat. Core is the
// position in the reported sample list.
type CPULoadSample struct {
	HeartbeatID int64   `json:"heartbeat_id"`
	Core        int64   `json:"core"`
	Val         float64 `json:"val"`
}

func (CPULoadSample) Table() string { return "cpuload" }

// Limits carries the maximum identifier already persisted per kind. A sink
// reports its limits at startup and the parser seeds its counters from them,
// so a restarted session never reissues an id.
type Limits struct {
	MaxExecutionID int64 `json:"max_execution_id"`
	MaxEventID     int64 `json:"max_event_id"`
	MaxVariableID  int64 `json:"max_variable_id"`
	MaxHeartbeatID int64 `json:"max_heartbeat_id"`
}
