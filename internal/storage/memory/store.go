// Package memory provides an in-memory sink, used in tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/skoulos/mal_analytics/pkg/models"
)

// Store keeps all rows in memory. The type catalog is seeded with the
// builtin MAL types at construction. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	executions []models.Execution
	events     []models.Event
	edges      []models.PrerequisiteEdge
	variables  []models.Variable
	argList    []models.VariableListEntry
	retList    []models.VariableListEntry
	heartbeats []models.Heartbeat
	cpuload    []models.CPULoadSample

	varsByName map[string]int64
	types      map[string]int64
}

// New creates an empty in-memory store with the builtin type catalog.
func New() *Store {
	types := make(map[string]int64)
	for i, name := range models.BuiltinTypes() {
		types[name] = int64(i + 1)
	}
	return &Store{
		varsByName: make(map[string]int64),
		types:      types,
	}
}

// StartingLimits reports the maximum id stored per kind.
func (s *Store) StartingLimits(ctx context.Context) (models.Limits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lim models.Limits
	for _, e := range s.executions {
		lim.MaxExecutionID = max(lim.MaxExecutionID, e.ExecutionID)
	}
	for _, e := range s.events {
		lim.MaxEventID = max(lim.MaxEventID, e.EventID)
	}
	for _, v := range s.variables {
		lim.MaxVariableID = max(lim.MaxVariableID, v.VariableID)
	}
	for _, h := range s.heartbeats {
		lim.MaxHeartbeatID = max(lim.MaxHeartbeatID, h.HeartbeatID)
	}
	return lim, nil
}

// Insert stores the given rows.
func (s *Store) Insert(ctx context.Context, rows ...models.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		switch r := row.(type) {
		case models.Execution:
			s.executions = append(s.executions, r)
		case models.Event:
			s.events = append(s.events, r)
		case models.PrerequisiteEdge:
			s.edges = append(s.edges, r)
		case models.Variable:
			s.variables = append(s.variables, r)
			if _, ok := s.varsByName[r.Name]; !ok {
				s.varsByName[r.Name] = r.VariableID
			}
		case models.VariableListEntry:
			if r.Kind == models.ReturnList {
				s.retList = append(s.retList, r)
			} else {
				s.argList = append(s.argList, r)
			}
		case models.Heartbeat:
			s.heartbeats = append(s.heartbeats, r)
		case models.CPULoadSample:
			s.cpuload = append(s.cpuload, r)
		default:
			return fmt.Errorf("unknown row type for table %q", row.Table())
		}
	}
	return nil
}

// LookupVariable resolves a variable name to its stored id.
func (s *Store) LookupVariable(ctx context.Context, name string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.varsByName[name]
	return id, ok, nil
}

// LookupType resolves a type name against the catalog.
func (s *Store) LookupType(ctx context.Context, name string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.types[name]
	return id, ok, nil
}

// ListExecutions returns stored executions, optionally filtered by session.
func (s *Store) ListExecutions(ctx context.Context, session string, limit, offset int) ([]models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Execution
	for _, e := range s.executions {
		if session != "" && e.ServerSession != session {
			continue
		}
		out = append(out, e)
	}
	if offset >= len(out) {
		return []models.Execution{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListEvents returns the events of one execution.
func (s *Store) ListEvents(ctx context.Context, executionID int64) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for _, e := range s.events {
		if e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListHeartbeats returns stored heartbeats, newest last.
func (s *Store) ListHeartbeats(ctx context.Context, limit int) ([]models.Heartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.heartbeats
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return append([]models.Heartbeat(nil), out...), nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Snapshot accessors for tests.

func (s *Store) Executions() []models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Execution(nil), s.executions...)
}

func (s *Store) Events() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Event(nil), s.events...)
}

func (s *Store) Edges() []models.PrerequisiteEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PrerequisiteEdge(nil), s.edges...)
}

func (s *Store) Variables() []models.Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Variable(nil), s.variables...)
}

func (s *Store) ArgumentList() []models.VariableListEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.VariableListEntry(nil), s.argList...)
}

func (s *Store) ReturnList() []models.VariableListEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.VariableListEntry(nil), s.retList...)
}

func (s *Store) Heartbeats() []models.Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Heartbeat(nil), s.heartbeats...)
}

func (s *Store) CPULoad() []models.CPULoadSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.CPULoadSample(nil), s.cpuload...)
}
