package parser

import (
	"context"
	"errors"

	"github.com/skoulos/mal_analytics/pkg/models"
)

// parseTrace projects one trace record into execution and event rows,
// prerequisite edges, and variable-list rows. A failure partway through the
// record never corrupts allocator state and never suppresses rows already
// handed to the sink; there is no per-record rollback.
func (p *Parser) parseTrace(ctx context.Context, rec *traceRecord) {
	execution := p.alloc.next(executionID)
	event := p.alloc.next(eventID)

	if err := p.sink.Insert(ctx, models.Execution{
		ExecutionID:   execution,
		ServerSession: rec.Session,
		Tag:           rec.Tag,
	}); err != nil {
		p.log.Warn("execution row not stored", "kind", "trace", "execution_id", execution, "reason", err)
	}

	var state *models.ExecutionState
	if s, ok := models.ParseState(rec.State); ok {
		state = &s
	} else {
		// Unrecognized tokens map to an absent state, not a failed record.
		p.log.Warn("unrecognized execution state", "kind", "trace", "field", "state", "value", rec.State)
	}

	if err := p.sink.Insert(ctx, models.Event{
		EventID:        event,
		ExecutionID:    execution,
		PC:             rec.PC,
		State:          state,
		Clk:            rec.Clk,
		CTime:          rec.CTime,
		Thread:         rec.Thread,
		Function:       rec.Function,
		Usec:           rec.Usec,
		RSS:            rec.RSS,
		TypeSize:       rec.Size,
		LongStatement:  rec.Stmt,
		ShortStatement: rec.Short,
	}); err != nil {
		p.log.Warn("event row not stored", "kind", "trace", "event_id", event, "reason", err)
	}

	// Prerequisite ids are recorded as given; the consequent is always the
	// event just created.
	for _, prereq := range rec.Prereq {
		if err := p.sink.Insert(ctx, models.PrerequisiteEdge{
			PrerequisiteEvent: prereq,
			ConsequentEvent:   event,
		}); err != nil {
			p.log.Warn("prerequisite edge not stored", "kind", "trace", "event_id", event, "prerequisite", prereq, "reason", err)
		}
	}

	p.parseVariableList(ctx, models.ReturnList, rec.Ret, execution, event)
	p.parseVariableList(ctx, models.ArgumentList, rec.Arg, execution, event)
}

// parseVariableList resolves each declaration in order and links it to the
// event. A declaration that fails resolution is skipped on its own; the
// rest of the list still goes through.
func (p *Parser) parseVariableList(ctx context.Context, kind models.VariableListKind, decls []varDecl, execution, event int64) {
	for _, decl := range decls {
		id, _, err := p.registry.resolve(ctx, decl, execution)
		if err != nil {
			var typeErr *TypeResolutionError
			if errors.As(err, &typeErr) {
				p.log.Warn("unknown type, ignoring variable",
					"kind", "trace", "field", "type", "type", typeErr.TypeName, "variable", typeErr.Variable)
				continue
			}
			p.log.Warn("variable not resolved", "kind", "trace", "variable", decl.Name, "reason", err)
			if id == 0 {
				continue
			}
			// An id was assigned before the failure; the list entry still
			// refers to it.
		}

		if err := p.sink.Insert(ctx, models.VariableListEntry{
			Kind:       kind,
			ListIndex:  decl.Index,
			EventID:    event,
			VariableID: id,
		}); err != nil {
			p.log.Warn("variable list entry not stored", "kind", "trace", "event_id", event, "variable", decl.Name, "reason", err)
		}
	}
}
