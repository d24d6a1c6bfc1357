package keypad

import "errors"

// Sentinel errors for keypad planning and LED bindings.
// Use errors.Is() to check for these errors as they may be wrapped with context.
var (
	// ErrButtonCount indicates a device with an unsupported number of buttons.
	ErrButtonCount = errors.New("unsupported button count")

	// ErrJoinRange indicates a planned join outside the digital join range.
	ErrJoinRange = errors.New("join out of range")

	// ErrInvalidDevice indicates a keypad configuration that cannot be planned.
	ErrInvalidDevice = errors.New("invalid keypad device")

	// ErrInvalidBinding indicates an LED binding that references a missing button.
	ErrInvalidBinding = errors.New("invalid LED binding")
)
