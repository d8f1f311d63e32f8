package parser

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/skoulos/mal_analytics/internal/storage/memory"
	"github.com/skoulos/mal_analytics/pkg/models"
)

// newTestParser creates a parser over the given store with a quiet logger.
func newTestParser(t *testing.T, store *memory.Store, opts ...Option) *Parser {
	t.Helper()

	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	p, err := New(context.Background(), store, opts...)
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	return p
}

// traceObject builds a trace record as JSON. Callers override fields on the
// base map before marshaling.
func traceObject(t *testing.T, overrides map[string]interface{}) []byte {
	t.Helper()

	obj := map[string]interface{}{
		"source":   "trace",
		"session":  "5d4f5a1d-5f91-4d52-a0e7-05ed54bb7073",
		"tag":      12,
		"state":    "done",
		"pc":       4,
		"clk":      665866,
		"ctime":    1536251511449684,
		"thread":   7,
		"function": "user.main",
		"usec":     125,
		"rss":      130,
		"size":     0,
		"stmt":     "X_10:bat[:int] := algebra.projection(C_2:bat[:oid], X_7:bat[:int]);",
		"short":    "X_10 := algebra.projection(C_2, X_7)",
		"prereq":   []int{},
		"ret":      []map[string]interface{}{},
		"arg":      []map[string]interface{}{},
	}
	for k, v := range overrides {
		obj[k] = v
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("failed to marshal trace object: %v", err)
	}
	return raw
}

func variable(name, typeName string, index int) map[string]interface{} {
	return map[string]interface{}{
		"name":    name,
		"type":    typeName,
		"alias":   "",
		"kind":    "transient",
		"bid":     0,
		"count":   0,
		"size":    0,
		"seqbase": 0,
		"hghbase": 0,
		"eol":     1,
		"index":   index,
	}
}

func heartbeatObject(t *testing.T, cpuload []float64) []byte {
	t.Helper()

	raw, err := json.Marshal(map[string]interface{}{
		"source":  "heartbeat",
		"session": "5d4f5a1d-5f91-4d52-a0e7-05ed54bb7073",
		"clk":     12345,
		"ctime":   1536251511449684,
		"rss":     130,
		"nvcsw":   7,
		"cpuload": cpuload,
	})
	if err != nil {
		t.Fatalf("failed to marshal heartbeat object: %v", err)
	}
	return raw
}

func TestMonotonicIDsFromSeeds(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	// Rows persisted by an earlier session push the starting limits up.
	seed := []models.Row{
		models.Execution{ExecutionID: 10, ServerSession: "old", Tag: 1},
		models.Event{EventID: 20, ExecutionID: 10, PC: 1},
		models.Variable{VariableID: 5, Name: "old_var", ExecutionID: 10, TypeID: 1},
		models.Heartbeat{HeartbeatID: 7, ServerSession: "old"},
	}
	if err := store.Insert(ctx, seed...); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	p := newTestParser(t, store)

	for i := 0; i < 3; i++ {
		if err := p.Parse(ctx, traceObject(t, map[string]interface{}{
			"arg": []map[string]interface{}{variable("X_1", "int", 0)},
		})); err != nil {
			t.Fatalf("trace %d failed: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := p.Parse(ctx, heartbeatObject(t, []float64{0.5})); err != nil {
			t.Fatalf("heartbeat %d failed: %v", i, err)
		}
	}

	executions := store.Executions()
	want := []int64{11, 12, 13}
	for i, e := range executions[1:] {
		if e.ExecutionID != want[i] {
			t.Errorf("execution %d: got id %d, want %d", i, e.ExecutionID, want[i])
		}
	}

	events := store.Events()
	if got := events[len(events)-1].EventID; got != 23 {
		t.Errorf("last event id = %d, want 23", got)
	}

	heartbeats := store.Heartbeats()
	if got := heartbeats[len(heartbeats)-1].HeartbeatID; got != 9 {
		t.Errorf("last heartbeat id = %d, want 9", got)
	}

	limits := p.Limits()
	if limits.MaxExecutionID != 13 || limits.MaxEventID != 23 || limits.MaxVariableID != 6 || limits.MaxHeartbeatID != 9 {
		t.Errorf("unexpected limits: %+v", limits)
	}
}

func TestVariableDedupIdempotence(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)
	ctx := context.Background()

	// Two trace records declaring the same variable name. Each record is a
	// separate execution; dedup scope is the session.
	for i := 0; i < 2; i++ {
		if err := p.Parse(ctx, traceObject(t, map[string]interface{}{
			"arg": []map[string]interface{}{variable("X_42", "int", 0)},
		})); err != nil {
			t.Fatalf("trace %d failed: %v", i, err)
		}
	}

	vars := store.Variables()
	if len(vars) != 1 {
		t.Fatalf("variable rows = %d, want 1", len(vars))
	}

	argList := store.ArgumentList()
	if len(argList) != 2 {
		t.Fatalf("argument list rows = %d, want 2", len(argList))
	}
	if argList[0].VariableID != argList[1].VariableID {
		t.Errorf("list entries reference different ids: %d vs %d",
			argList[0].VariableID, argList[1].VariableID)
	}
	if argList[0].VariableID != vars[0].VariableID {
		t.Errorf("list entry id %d does not match variable row id %d",
			argList[0].VariableID, vars[0].VariableID)
	}
}

func TestVariableDedupPerExecutionScope(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store, WithScope(ScopeExecution))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.Parse(ctx, traceObject(t, map[string]interface{}{
			"arg": []map[string]interface{}{variable("X_42", "int", 0)},
		})); err != nil {
			t.Fatalf("trace %d failed: %v", i, err)
		}
	}

	// Per-execution scope: each execution declares its own variable.
	vars := store.Variables()
	if len(vars) != 2 {
		t.Fatalf("variable rows = %d, want 2", len(vars))
	}
	if vars[0].VariableID == vars[1].VariableID {
		t.Error("expected distinct ids across executions")
	}
}

func TestUnknownTypeIsolation(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)
	ctx := context.Background()

	raw := traceObject(t, map[string]interface{}{
		"state": "start",
		"pc":    1,
		"arg": []map[string]interface{}{
			variable("x", "int", 0),
			variable("y", "frobnicator", 1),
		},
	})
	if err := p.Parse(ctx, raw); err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	// Scenario A: the unknown type skips only its own variable.
	if got := len(store.Executions()); got != 1 {
		t.Errorf("executions = %d, want 1", got)
	}
	if got := len(store.Events()); got != 1 {
		t.Errorf("events = %d, want 1", got)
	}
	if got := len(store.Edges()); got != 0 {
		t.Errorf("edges = %d, want 0", got)
	}

	vars := store.Variables()
	if len(vars) != 1 {
		t.Fatalf("variable rows = %d, want 1", len(vars))
	}
	if vars[0].Name != "x" {
		t.Errorf("variable name = %q, want x", vars[0].Name)
	}
	if got := len(store.ArgumentList()); got != 1 {
		t.Errorf("argument list rows = %d, want 1", got)
	}

	if store.Executions()[0].ExecutionID != 1 {
		t.Errorf("execution id = %d, want 1", store.Executions()[0].ExecutionID)
	}
	if store.Events()[0].EventID != 1 {
		t.Errorf("event id = %d, want 1", store.Events()[0].EventID)
	}
}

func TestMalformedInputIsolation(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)
	ctx := context.Background()

	stream := [][]byte{
		traceObject(t, nil),
		[]byte(`{"source": "trace", "tag": `),
		traceObject(t, nil),
	}

	var decodeFailures int
	for _, raw := range stream {
		err := p.Parse(ctx, raw)
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeFailures++
		}
	}

	if got := len(store.Executions()); got != 2 {
		t.Errorf("executions = %d, want 2", got)
	}
	if decodeFailures != 1 {
		t.Errorf("decode failures = %d, want 1", decodeFailures)
	}
}

func TestHeartbeatFanOut(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)
	ctx := context.Background()

	if err := p.Parse(ctx, heartbeatObject(t, []float64{0.1, 0.2, 0.3})); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	heartbeats := store.Heartbeats()
	if len(heartbeats) != 1 {
		t.Fatalf("heartbeat rows = %d, want 1", len(heartbeats))
	}
	if heartbeats[0].HeartbeatID != 1 {
		t.Errorf("heartbeat id = %d, want 1", heartbeats[0].HeartbeatID)
	}

	samples := store.CPULoad()
	if len(samples) != 3 {
		t.Fatalf("cpuload rows = %d, want 3", len(samples))
	}
	want := []float64{0.1, 0.2, 0.3}
	for i, sample := range samples {
		if sample.HeartbeatID != 1 {
			t.Errorf("sample %d heartbeat id = %d, want 1", i, sample.HeartbeatID)
		}
		if sample.Core != int64(i) {
			t.Errorf("sample %d core = %d, want %d", i, sample.Core, i)
		}
		if sample.Val != want[i] {
			t.Errorf("sample %d value = %v, want %v", i, sample.Val, want[i])
		}
	}
}

func TestUnrecognizedStateMapsToAbsent(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)
	ctx := context.Background()

	if err := p.Parse(ctx, traceObject(t, map[string]interface{}{"state": "wait"})); err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].State != nil {
		t.Errorf("state = %v, want absent", *events[0].State)
	}
}

func TestStateMapping(t *testing.T) {
	tests := []struct {
		token string
		want  models.ExecutionState
	}{
		{"start", models.StateStart},
		{"done", models.StateDone},
		{"pause", models.StatePause},
	}

	for _, tt := range tests {
		store := memory.New()
		p := newTestParser(t, store)

		if err := p.Parse(context.Background(), traceObject(t, map[string]interface{}{"state": tt.token})); err != nil {
			t.Fatalf("trace with state %q failed: %v", tt.token, err)
		}

		events := store.Events()
		if events[0].State == nil {
			t.Fatalf("state %q mapped to absent", tt.token)
		}
		if *events[0].State != tt.want {
			t.Errorf("state %q = %d, want %d", tt.token, *events[0].State, tt.want)
		}
	}
}

func TestPrerequisiteEdgesUnchecked(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)
	ctx := context.Background()

	// Prerequisites referencing events never seen are recorded as given.
	if err := p.Parse(ctx, traceObject(t, map[string]interface{}{"prereq": []int{97, 98, 99}})); err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	edges := store.Edges()
	if len(edges) != 3 {
		t.Fatalf("edges = %d, want 3", len(edges))
	}
	for i, want := range []int64{97, 98, 99} {
		if edges[i].PrerequisiteEvent != want {
			t.Errorf("edge %d prerequisite = %d, want %d", i, edges[i].PrerequisiteEvent, want)
		}
		if edges[i].ConsequentEvent != 1 {
			t.Errorf("edge %d consequent = %d, want 1", i, edges[i].ConsequentEvent)
		}
	}
}

func TestUnknownSourceDropped(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)

	err := p.Parse(context.Background(), []byte(`{"source": "wizard"}`))
	var kindErr *UnrecognizedKindError
	if !errors.As(err, &kindErr) {
		t.Fatalf("got %v, want UnrecognizedKindError", err)
	}
	if kindErr.Source != "wizard" {
		t.Errorf("source = %q, want wizard", kindErr.Source)
	}

	err = p.Parse(context.Background(), []byte(`{"session": "s"}`))
	if !errors.As(err, &kindErr) {
		t.Fatalf("got %v, want UnrecognizedKindError for missing source", err)
	}
}

func TestReturnAndArgumentListsSeparate(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)
	ctx := context.Background()

	raw := traceObject(t, map[string]interface{}{
		"ret": []map[string]interface{}{variable("X_10", "bat[:int]", 0)},
		"arg": []map[string]interface{}{
			variable("C_2", "bat[:oid]", 1),
			variable("X_7", "bat[:int]", 2),
		},
	})
	if err := p.Parse(ctx, raw); err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	if got := len(store.ReturnList()); got != 1 {
		t.Errorf("return list rows = %d, want 1", got)
	}
	if got := len(store.ArgumentList()); got != 2 {
		t.Errorf("argument list rows = %d, want 2", got)
	}
	if got := len(store.Variables()); got != 3 {
		t.Errorf("variable rows = %d, want 3", got)
	}

	// Declared order is preserved through the list index.
	argList := store.ArgumentList()
	if argList[0].ListIndex != 1 || argList[1].ListIndex != 2 {
		t.Errorf("argument list indexes = %d, %d; want 1, 2", argList[0].ListIndex, argList[1].ListIndex)
	}
}

func TestPersistentAndEOLFlags(t *testing.T) {
	store := memory.New()
	p := newTestParser(t, store)
	ctx := context.Background()

	decl := variable("X_1", "int", 0)
	decl["kind"] = "persistent"
	decl["eol"] = 0

	if err := p.Parse(ctx, traceObject(t, map[string]interface{}{
		"arg": []map[string]interface{}{decl},
	})); err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	vars := store.Variables()
	if len(vars) != 1 {
		t.Fatalf("variable rows = %d, want 1", len(vars))
	}
	if !vars[0].IsPersistent {
		t.Error("is_persistent = false, want true")
	}
	if !vars[0].EndOfLife {
		t.Error("end_of_life = false, want true for eol=0")
	}
}
