// Package rendergraph defines the pass-scheduling contract that bucketing
// pipelines are recorded against, and a host (CPU) implementation of it.
//
// A Graph owns buffers and an ordered list of passes. Each pass declares the
// buffers it reads and writes and supplies a record callback. Inside the
// callback, buffer ids are resolved to bindable handles and kernels are
// dispatched over a number of invocations. Between two passes every
// implementation places a full memory barrier: all writes of pass N are
// visible to pass N+1. Within a pass invocations run in no particular order.
//
// Implementations:
//   - [HostGraph]: executes kernels on a worker pool, one goroutine-parallel
//     dispatch per pass. Used for tests, tooling and CPU fallback.
//   - halgraph.Graph: records one compute pass per declared pass on a
//     gogpu/wgpu HAL device.
package rendergraph

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
)

// BufferID is an opaque handle to a buffer owned by a Graph.
type BufferID uint32

// InvalidBuffer is the zero BufferID. No live buffer has this id.
const InvalidBuffer BufferID = 0

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is a debug label.
	Label string

	// Size is the buffer size in bytes. It is rounded up to a multiple of 4.
	Size uint64

	// Usage is the usage bitmask. Storage and CopyDst/CopySrc are added by
	// the device implementation as needed for binding and readback.
	Usage gputypes.BufferUsage
}

// Access is how a kernel binding accesses its buffer.
type Access uint8

const (
	// AccessUniform binds the buffer as a uniform block.
	AccessUniform Access = iota

	// AccessRead binds the buffer as read-only storage.
	AccessRead

	// AccessReadWrite binds the buffer as read-write storage.
	AccessReadWrite
)

// String returns the WGSL-style name of the access mode.
func (a Access) String() string {
	switch a {
	case AccessUniform:
		return "uniform"
	case AccessRead:
		return "read"
	case AccessReadWrite:
		return "read_write"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// Writes reports whether the access mode may modify the buffer.
func (a Access) Writes() bool { return a == AccessReadWrite }

// HostKernel is the CPU implementation of a kernel. It is called once per
// invocation; bufs holds the bound buffers in binding order. Invocations run
// concurrently and must only share state through the atomic accessors of
// HostBuffer.
type HostKernel func(invocation uint32, bufs []*HostBuffer)

// Kernel is one compute program: a WGSL entry point plus its host
// equivalent. Bindings lists the access mode of @group(0) @binding(i) for
// every i, in order.
type Kernel struct {
	// Name identifies the kernel in labels, logs and pipeline caches.
	Name string

	// Source is the WGSL source.
	Source string

	// EntryPoint is the WGSL entry point. Empty means "main".
	EntryPoint string

	// WorkgroupSize is the @workgroup_size of the entry point (x only).
	WorkgroupSize uint32

	// Bindings are the access modes of the kernel's bindings.
	Bindings []Access

	// Host is the CPU implementation.
	Host HostKernel
}

// Entry returns the kernel's entry point name.
func (k *Kernel) Entry() string {
	if k.EntryPoint == "" {
		return "main"
	}
	return k.EntryPoint
}

// Workgroups returns the number of workgroups needed to cover invocations.
func (k *Kernel) Workgroups(invocations uint32) uint32 {
	wg := k.WorkgroupSize
	if wg == 0 {
		wg = 1
	}
	return (invocations + wg - 1) / wg
}

// PassDesc declares a pass and the buffers it touches. A buffer that is both
// read and written belongs in Writes only.
type PassDesc struct {
	Name   string
	Reads  []BufferID
	Writes []BufferID
}

// Handle is a buffer resolved inside a record callback. Handles are only
// valid for the duration of the callback that resolved them.
type Handle interface {
	// ID returns the buffer the handle was resolved from.
	ID() BufferID
}

// Recorder is passed to record callbacks.
type Recorder interface {
	// Resolve returns a bindable handle for a buffer declared by the pass.
	Resolve(id BufferID) (Handle, error)

	// Dispatch runs kernel over invocations with handles bound in order.
	Dispatch(kernel *Kernel, handles []Handle, invocations uint32) error
}

// RecordFunc records the work of one pass.
type RecordFunc func(rec Recorder) error

// Graph schedules passes over buffers it owns.
type Graph interface {
	// CreateBuffer allocates a zero-filled buffer.
	CreateBuffer(desc BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer. Unknown ids are ignored.
	DestroyBuffer(id BufferID)

	// WriteBuffer uploads data at a byte offset. The buffer counts as
	// written for hazard tracking.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies size bytes starting at offset back to the host.
	ReadBuffer(id BufferID, offset, size uint64) ([]byte, error)

	// AddPass appends a pass. The pass is validated against the passes
	// declared before it; record runs during Execute.
	AddPass(desc PassDesc, record RecordFunc) error

	// Execute runs all pending passes in declaration order, with a full
	// barrier between consecutive passes, and clears the pending list.
	Execute(ctx context.Context) error
}

// Resolve resolves every id in order. It is a convenience for record
// callbacks that bind several buffers.
func Resolve(rec Recorder, ids ...BufferID) ([]Handle, error) {
	handles := make([]Handle, len(ids))
	for i, id := range ids {
		h, err := rec.Resolve(id)
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}
	return handles, nil
}
