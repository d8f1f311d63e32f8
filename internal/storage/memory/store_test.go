package memory

import (
	"context"
	"testing"

	"github.com/skoulos/mal_analytics/pkg/models"
)

func TestStartingLimits(t *testing.T) {
	store := New()
	ctx := context.Background()

	limits, err := store.StartingLimits(ctx)
	if err != nil {
		t.Fatalf("starting limits: %v", err)
	}
	if limits != (models.Limits{}) {
		t.Errorf("empty store limits = %+v, want zeros", limits)
	}

	err = store.Insert(ctx,
		models.Execution{ExecutionID: 4, ServerSession: "s", Tag: 1},
		models.Event{EventID: 17, ExecutionID: 4},
		models.Variable{VariableID: 8, Name: "X_8", ExecutionID: 4, TypeID: 1},
		models.Heartbeat{HeartbeatID: 2, ServerSession: "s"},
	)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	limits, err = store.StartingLimits(ctx)
	if err != nil {
		t.Fatalf("starting limits: %v", err)
	}
	want := models.Limits{MaxExecutionID: 4, MaxEventID: 17, MaxVariableID: 8, MaxHeartbeatID: 2}
	if limits != want {
		t.Errorf("limits = %+v, want %+v", limits, want)
	}
}

func TestLookupVariableFirstWins(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Insert(ctx,
		models.Variable{VariableID: 1, Name: "X_1", ExecutionID: 1, TypeID: 1},
		models.Variable{VariableID: 2, Name: "X_1", ExecutionID: 2, TypeID: 1},
	)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	id, found, err := store.LookupVariable(ctx, "X_1")
	if err != nil || !found {
		t.Fatalf("lookup = (%v, %v)", found, err)
	}
	if id != 1 {
		t.Errorf("lookup returned %d, want the first stored id 1", id)
	}
}

func TestTypeCatalogSeeded(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, name := range []string{"void", "int", "str", "bat[:int]", "bat[:uuid]"} {
		id, found, err := store.LookupType(ctx, name)
		if err != nil || !found || id == 0 {
			t.Errorf("builtin type %q not resolvable: (%d, %v, %v)", name, id, found, err)
		}
	}
	if _, found, _ := store.LookupType(ctx, "frobnicator"); found {
		t.Error("unknown type resolved")
	}
}

func TestListExecutionsPagination(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		session := "a"
		if i%2 == 0 {
			session = "b"
		}
		if err := store.Insert(ctx, models.Execution{ExecutionID: i, ServerSession: session, Tag: i}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	execs, err := store.ListExecutions(ctx, "a", 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(execs) != 2 || execs[0].ExecutionID != 3 || execs[1].ExecutionID != 5 {
		t.Errorf("paginated list = %+v", execs)
	}

	execs, err = store.ListExecutions(ctx, "", 100, 10)
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(execs) != 0 {
		t.Errorf("offset past end returned %d rows", len(execs))
	}
}

func TestVariableListRouting(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Insert(ctx,
		models.VariableListEntry{Kind: models.ReturnList, ListIndex: 0, EventID: 1, VariableID: 1},
		models.VariableListEntry{Kind: models.ArgumentList, ListIndex: 0, EventID: 1, VariableID: 2},
		models.VariableListEntry{Kind: models.ArgumentList, ListIndex: 1, EventID: 1, VariableID: 3},
	)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if got := len(store.ReturnList()); got != 1 {
		t.Errorf("return list has %d entries, want 1", got)
	}
	if got := len(store.ArgumentList()); got != 2 {
		t.Errorf("argument list has %d entries, want 2", got)
	}
}

func TestListHeartbeatsWindow(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		if err := store.Insert(ctx, models.Heartbeat{HeartbeatID: i, ServerSession: "s"}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	beats, err := store.ListHeartbeats(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(beats) != 2 || beats[0].HeartbeatID != 3 || beats[1].HeartbeatID != 4 {
		t.Errorf("window = %+v", beats)
	}
}
