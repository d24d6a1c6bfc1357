package xsig

import "errors"

// Sentinel errors for XSIG operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidJoin indicates a join number outside the wire format's range.
	ErrInvalidJoin = errors.New("xsig: invalid join number")

	// ErrSerialTooLong indicates an outbound serial payload over the wire limit.
	ErrSerialTooLong = errors.New("xsig: serial payload too long")

	// ErrNotAvailable indicates no control processor session is active.
	ErrNotAvailable = errors.New("xsig: control processor not connected")

	// ErrListenFailed indicates the TCP listener could not be started.
	ErrListenFailed = errors.New("xsig: listen failed")

	// ErrServerClosed indicates the server has been shut down.
	ErrServerClosed = errors.New("xsig: server closed")
)
