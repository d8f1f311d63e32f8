package models

import "testing"

func TestParseState(t *testing.T) {
	tests := []struct {
		token string
		want  ExecutionState
		ok    bool
	}{
		{"start", StateStart, true},
		{"done", StateDone, true},
		{"pause", StatePause, true},
		{"running", 0, false},
		{"", 0, false},
		{"DONE", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseState(tt.token)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseState(%q) = (%v, %v), want (%v, %v)", tt.token, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStateStringRoundTrip(t *testing.T) {
	for _, s := range []ExecutionState{StateStart, StateDone, StatePause} {
		got, ok := ParseState(s.String())
		if !ok || got != s {
			t.Errorf("ParseState(%q) = (%v, %v), want (%v, true)", s.String(), got, ok, s)
		}
	}
}

func TestVariableListEntryTable(t *testing.T) {
	ret := VariableListEntry{Kind: ReturnList}
	if ret.Table() != "return_variable_list" {
		t.Errorf("return entry table = %q", ret.Table())
	}
	arg := VariableListEntry{Kind: ArgumentList}
	if arg.Table() != "argument_variable_list" {
		t.Errorf("argument entry table = %q", arg.Table())
	}
}

func TestBuiltinTypes(t *testing.T) {
	types := BuiltinTypes()

	seen := make(map[string]bool, len(types))
	for _, name := range types {
		if seen[name] {
			t.Errorf("duplicate type name %q", name)
		}
		seen[name] = true
	}

	for _, name := range []string{"void", "lng", "str", "bat[:oid]", "bat[:dbl]"} {
		if !seen[name] {
			t.Errorf("missing builtin type %q", name)
		}
	}
	if seen["bat[:void]"] != seen["void"] {
		t.Error("bat form missing for a scalar type")
	}
}
