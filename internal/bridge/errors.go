package bridge

import "errors"

// Sentinel errors for the sync engine.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidJoinRef indicates a malformed join reference ("d1"/"a2"/"s3").
	ErrInvalidJoinRef = errors.New("bridge: invalid join reference")

	// ErrInvalidRule indicates a sync rule that fails validation.
	ErrInvalidRule = errors.New("bridge: invalid sync rule")

	// ErrCoercion indicates a rendered value that does not fit the join kind.
	ErrCoercion = errors.New("bridge: value coercion failed")

	// ErrInvalidStatePayload indicates an entity state message that is not
	// the expected JSON shape.
	ErrInvalidStatePayload = errors.New("bridge: invalid entity state payload")
)
