package rewrite

import (
	"errors"
	"fmt"

	"mxprec/internal/ir"
)

var (
	// ErrUnhandledKind matches every UnhandledKindError.
	ErrUnhandledKind = errors.New("unhandled consumer kind")
	// ErrBadTarget is returned when a request names a value of the wrong
	// classification, e.g. an op request on a load.
	ErrBadTarget = errors.New("request target has the wrong kind")
	// ErrNotStruct rejects a field change on storage that is not a struct.
	ErrNotStruct = errors.New("field change on a non-struct value")
	// ErrFieldRange rejects a field index past the end of the struct.
	ErrFieldRange = errors.New("struct field index out of range")
	// ErrSignature rejects a call switch whose existing declaration does not
	// match the requested signature.
	ErrSignature = errors.New("switch function signature mismatch")
	// ErrNoRetarget is returned for a call request without a switch whose
	// callee has no known precision family.
	ErrNoRetarget = errors.New("no precision variant for callee")
	// ErrNoConversion is returned when no cast exists between two types.
	ErrNoConversion = errors.New("no conversion between types")
)

// UnhandledKindError names a consumer the dispatcher has no rule for.
type UnhandledKindError struct {
	Op    ir.Opcode
	User  string
	Value string
}

func (e *UnhandledKindError) Error() string {
	return fmt.Sprintf("%s: %s reads %s", ErrUnhandledKind, e.User, e.Value)
}

func (e *UnhandledKindError) Is(target error) bool { return target == ErrUnhandledKind }
