// Package errors provides structured error types for the host bridge.
//
// Errors are categorized by Phase (which layer raised it) and Kind (error category).
// The Error type carries the offending value, a field path, the Go type name and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindInvalidEncoding).
//		Path("string_new").
//		Detail("lone surrogate at index %d", 3).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseMemory, ptr, length, len(buf))
//	err := errors.StaleHandle(errors.PhaseHandle, h, "released")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
