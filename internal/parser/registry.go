package parser

import (
	"context"
	"fmt"

	"github.com/skoulos/mal_analytics/internal/storage"
	"github.com/skoulos/mal_analytics/pkg/models"
)

// Scope controls how far a variable name deduplicates.
type Scope int

const (
	// ScopeSession resolves a name to one id for the whole ingestion
	// session, regardless of which execution declared it. This matches the
	// historical behavior of the profiler tooling.
	ScopeSession Scope = iota

	// ScopeExecution resolves a name per execution: the same name in two
	// executions yields two variable rows.
	ScopeExecution
)

func (s Scope) String() string {
	if s == ScopeExecution {
		return "execution"
	}
	return "session"
}

// ParseScope maps a configuration token to a Scope.
func ParseScope(token string) (Scope, error) {
	switch token {
	case "", "session":
		return ScopeSession, nil
	case "execution":
		return ScopeExecution, nil
	default:
		return 0, fmt.Errorf("unknown variable scope %q (supported: session, execution)", token)
	}
}

// variableRegistry resolves variable declarations to surrogate ids,
// creating a Variable row only on first sight. Lookups observe every
// variable resolved earlier along the single processing path: the session
// cache is consulted first, the sink only for ids persisted by earlier
// sessions. Not safe for concurrent use.
type variableRegistry struct {
	sink  storage.Sink
	alloc *allocator
	scope Scope

	vars  map[string]int64
	types map[string]int64
}

func newVariableRegistry(sink storage.Sink, alloc *allocator, scope Scope) *variableRegistry {
	return &variableRegistry{
		sink:  sink,
		alloc: alloc,
		scope: scope,
		vars:  make(map[string]int64),
		types: make(map[string]int64),
	}
}

func (r *variableRegistry) key(name string, execution int64) string {
	if r.scope == ScopeExecution {
		return fmt.Sprintf("%d\x00%s", execution, name)
	}
	return name
}

// resolve returns the id for the declared variable, creating and inserting a
// new Variable row on first sight. An unresolvable type fails only this
// variable: no id is consumed, no row is emitted and the registry is left
// untouched.
func (r *variableRegistry) resolve(ctx context.Context, decl varDecl, execution int64) (id int64, created bool, err error) {
	key := r.key(decl.Name, execution)
	if id, ok := r.vars[key]; ok {
		return id, false, nil
	}

	// A name persisted by an earlier session keeps its id. Per-execution
	// scope never crosses a restart boundary, so the sink is not consulted.
	if r.scope == ScopeSession {
		id, ok, err := r.sink.LookupVariable(ctx, decl.Name)
		if err != nil {
			return 0, false, fmt.Errorf("looking up variable %q: %w", decl.Name, err)
		}
		if ok {
			r.vars[key] = id
			return id, false, nil
		}
	}

	typeID, err := r.resolveType(ctx, decl.Type)
	if err != nil {
		return 0, false, err
	}
	if typeID == 0 {
		return 0, false, &TypeResolutionError{Variable: decl.Name, TypeName: decl.Type}
	}

	id = r.alloc.next(variableID)
	row := models.Variable{
		VariableID:   id,
		Name:         decl.Name,
		ExecutionID:  execution,
		Alias:        decl.Alias,
		TypeID:       typeID,
		IsPersistent: decl.Kind == "persistent",
		BID:          decl.BID,
		Count:        decl.Count,
		Size:         decl.Size,
		SeqBase:      decl.SeqBase,
		HghBase:      decl.HghBase,
		EndOfLife:    decl.EOL == 0,
	}
	if err := r.sink.Insert(ctx, row); err != nil {
		// The id stays allocated and cached: later references must agree
		// with what the rest of this record already recorded.
		r.vars[key] = id
		return id, true, fmt.Errorf("inserting variable %q: %w", decl.Name, err)
	}

	r.vars[key] = id
	return id, true, nil
}

// resolveType resolves a type name against the fixed catalog, caching hits.
// Returns 0 with a nil error when the catalog has no such type.
func (r *variableRegistry) resolveType(ctx context.Context, name string) (int64, error) {
	if id, ok := r.types[name]; ok {
		return id, nil
	}
	id, ok, err := r.sink.LookupType(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("looking up type %q: %w", name, err)
	}
	if !ok {
		return 0, nil
	}
	r.types[name] = id
	return id, nil
}
