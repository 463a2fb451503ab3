package rendergraph

import "errors"

// Graph errors.
var (
	// ErrUnknownBuffer is returned for ids that were never created or have
	// been destroyed.
	ErrUnknownBuffer = errors.New("rendergraph: unknown buffer")

	// ErrUndeclaredBuffer is returned when a record callback resolves a
	// buffer its pass did not declare.
	ErrUndeclaredBuffer = errors.New("rendergraph: buffer not declared by pass")

	// ErrReadBeforeWrite is returned by AddPass when a pass reads a buffer
	// that no earlier pass or upload has written.
	ErrReadBeforeWrite = errors.New("rendergraph: buffer read before any write")

	// ErrAccessViolation is returned when a read-write binding is bound to a
	// buffer the pass only declared as read.
	ErrAccessViolation = errors.New("rendergraph: write access to read-only buffer")

	// ErrBindingMismatch is returned when the number of handles does not
	// match the kernel's binding list.
	ErrBindingMismatch = errors.New("rendergraph: handle count does not match kernel bindings")

	// ErrOutOfRange is returned for reads and writes past the end of a buffer.
	ErrOutOfRange = errors.New("rendergraph: access past end of buffer")

	// ErrGraphClosed is returned by operations on a closed graph.
	ErrGraphClosed = errors.New("rendergraph: graph is closed")

	// ErrNilKernel is returned when Dispatch is called without a kernel.
	ErrNilKernel = errors.New("rendergraph: kernel is nil")
)
