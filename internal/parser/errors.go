package parser

import "fmt"

// DecodeError reports input text that could not be decoded as a profiler
// record. The record is dropped and the stream continues.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding profiler object: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnrecognizedKindError reports a record whose source discriminator is
// missing or names no known record kind. The record is dropped and the
// stream continues.
type UnrecognizedKindError struct {
	Source string
}

func (e *UnrecognizedKindError) Error() string {
	if e.Source == "" {
		return "profiler object has no source field"
	}
	return fmt.Sprintf("unknown profiler object kind: %s", e.Source)
}

// TypeResolutionError reports a variable whose declared type is absent from
// the type catalog. Only that variable and its list entry are skipped; the
// enclosing event is still emitted.
type TypeResolutionError struct {
	Variable string
	TypeName string
}

func (e *TypeResolutionError) Error() string {
	return fmt.Sprintf("unknown type %q for variable %q", e.TypeName, e.Variable)
}
