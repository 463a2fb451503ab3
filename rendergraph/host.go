package rendergraph

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/pointbucket/internal/parallel"
)

// HostBuffer is a buffer backed by host memory, addressed in 32-bit words.
//
// All accessors are atomic, so concurrent invocations of one dispatch may
// share a buffer as long as each word is only mutated through Store, Add or
// Exchange. Accesses past the end follow WebGPU robust-access rules: loads
// return zero and stores are discarded.
type HostBuffer struct {
	id    BufferID
	label string
	words []uint32
}

// ID returns the buffer id.
func (b *HostBuffer) ID() BufferID { return b.id }

// Label returns the debug label.
func (b *HostBuffer) Label() string { return b.label }

// Len returns the buffer length in words.
func (b *HostBuffer) Len() uint32 { return uint32(len(b.words)) } //nolint:gosec // buffers are far below 2^32 words

// Load atomically reads word i.
func (b *HostBuffer) Load(i uint32) uint32 {
	if i >= b.Len() {
		return 0
	}
	return atomic.LoadUint32(&b.words[i])
}

// Store atomically writes word i.
func (b *HostBuffer) Store(i, v uint32) {
	if i >= b.Len() {
		return
	}
	atomic.StoreUint32(&b.words[i], v)
}

// Add atomically adds delta to word i and returns the previous value, like
// WGSL atomicAdd.
func (b *HostBuffer) Add(i, delta uint32) uint32 {
	if i >= b.Len() {
		return 0
	}
	return atomic.AddUint32(&b.words[i], delta) - delta
}

// Exchange atomically replaces word i and returns the previous value, like
// WGSL atomicExchange.
func (b *HostBuffer) Exchange(i, v uint32) uint32 {
	if i >= b.Len() {
		return 0
	}
	return atomic.SwapUint32(&b.words[i], v)
}

// LoadFloat reads word i as an IEEE-754 float.
func (b *HostBuffer) LoadFloat(i uint32) float32 {
	return math.Float32frombits(b.Load(i))
}

// StoreFloat writes f to word i.
func (b *HostBuffer) StoreFloat(i uint32, f float32) {
	b.Store(i, math.Float32bits(f))
}

// hostHandle binds a HostBuffer inside one pass.
type hostHandle struct{ buf *HostBuffer }

func (h hostHandle) ID() BufferID { return h.buf.id }

// hostPass is a declared pass waiting for Execute.
type hostPass struct {
	scope  *Scope
	record RecordFunc
}

// HostStats counts the work a HostGraph has executed.
type HostStats struct {
	Frames      uint64
	Passes      uint64
	Dispatches  uint64
	Invocations uint64
	Elapsed     time.Duration
}

// HostOption configures a HostGraph.
type HostOption func(*hostOptions)

type hostOptions struct {
	workers int
	pool    *parallel.WorkerPool
}

// WithWorkers sets the number of workers of the graph's own pool.
// Zero or negative means GOMAXPROCS.
func WithWorkers(n int) HostOption {
	return func(o *hostOptions) { o.workers = n }
}

// WithPool makes the graph dispatch on a shared pool. The graph does not
// close a shared pool.
func WithPool(p *parallel.WorkerPool) HostOption {
	return func(o *hostOptions) { o.pool = p }
}

// HostGraph executes passes on the CPU. Each Dispatch is spread across a
// worker pool and completes before the next dispatch starts, which gives
// the same ordering guarantees as a full device barrier.
//
// Thread safety: HostGraph is safe for concurrent use, but passes from
// different goroutines interleave in AddPass order.
type HostGraph struct {
	mu       sync.Mutex
	pool     *parallel.WorkerPool
	ownsPool bool
	tracker  *Tracker
	buffers  map[BufferID]*HostBuffer
	nextID   BufferID
	pending  []hostPass
	closed   bool

	stats HostStats
}

// NewHostGraph creates a host graph.
func NewHostGraph(opts ...HostOption) *HostGraph {
	var o hostOptions
	for _, opt := range opts {
		opt(&o)
	}

	g := &HostGraph{
		pool:    o.pool,
		tracker: NewTracker(),
		buffers: make(map[BufferID]*HostBuffer),
	}
	if g.pool == nil {
		g.pool = parallel.NewWorkerPool(o.workers)
		g.ownsPool = true
	}
	return g
}

// Close releases the graph's buffers and stops its pool.
func (g *HostGraph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.buffers = nil
	g.pending = nil
	if g.ownsPool {
		g.pool.Close()
	}
}

// CreateBuffer allocates a zero-filled buffer.
func (g *HostGraph) CreateBuffer(desc BufferDesc) (BufferID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return InvalidBuffer, ErrGraphClosed
	}

	g.nextID++
	id := g.nextID
	words := (desc.Size + 3) / 4
	g.buffers[id] = &HostBuffer{
		id:    id,
		label: desc.Label,
		words: make([]uint32, words),
	}
	g.tracker.Add(id)

	Logger().Debug("rendergraph: host buffer created",
		"id", id, "label", desc.Label, "bytes", words*4)
	return id, nil
}

// DestroyBuffer releases a buffer.
func (g *HostGraph) DestroyBuffer(id BufferID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	delete(g.buffers, id)
	g.tracker.Remove(id)
}

// Buffer returns the host buffer behind id. It gives tools and tests direct
// word access without a byte round trip.
func (g *HostGraph) Buffer(id BufferID) (*HostBuffer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGraphClosed
	}
	b, ok := g.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	return b, nil
}

// WriteBuffer uploads little-endian data at a byte offset. Offset and
// length must be multiples of 4.
func (g *HostGraph) WriteBuffer(id BufferID, offset uint64, data []byte) error {
	b, err := g.Buffer(id)
	if err != nil {
		return err
	}
	if offset%4 != 0 || len(data)%4 != 0 {
		return fmt.Errorf("rendergraph: write to %q not word aligned (offset %d, len %d)", b.label, offset, len(data))
	}
	if offset+uint64(len(data)) > uint64(len(b.words))*4 {
		return fmt.Errorf("write %q: %w", b.label, ErrOutOfRange)
	}

	first := uint32(offset / 4) //nolint:gosec // bounded by buffer length
	for i := 0; i < len(data); i += 4 {
		b.Store(first+uint32(i/4), binary.LittleEndian.Uint32(data[i:])) //nolint:gosec // bounded by buffer length
	}
	return g.tracker.MarkWritten(id)
}

// ReadBuffer returns a little-endian copy of size bytes starting at offset.
func (g *HostGraph) ReadBuffer(id BufferID, offset, size uint64) ([]byte, error) {
	b, err := g.Buffer(id)
	if err != nil {
		return nil, err
	}
	if offset%4 != 0 || size%4 != 0 {
		return nil, fmt.Errorf("rendergraph: read from %q not word aligned (offset %d, size %d)", b.label, offset, size)
	}
	if offset+size > uint64(len(b.words))*4 {
		return nil, fmt.Errorf("read %q: %w", b.label, ErrOutOfRange)
	}

	out := make([]byte, size)
	first := uint32(offset / 4) //nolint:gosec // bounded by buffer length
	for i := uint64(0); i < size; i += 4 {
		binary.LittleEndian.PutUint32(out[i:], b.Load(first+uint32(i/4))) //nolint:gosec // bounded by buffer length
	}
	return out, nil
}

// AddPass validates and queues a pass.
func (g *HostGraph) AddPass(desc PassDesc, record RecordFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGraphClosed
	}

	scope, err := g.tracker.Declare(desc)
	if err != nil {
		return err
	}
	g.pending = append(g.pending, hostPass{scope: scope, record: record})
	return nil
}

// Execute runs all pending passes in order. Cancellation is observed
// between passes; a cancelled frame leaves buffers in an intermediate state
// that must not be read.
func (g *HostGraph) Execute(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGraphClosed
	}
	passes := g.pending
	g.pending = nil
	g.mu.Unlock()

	start := time.Now()
	for i, p := range passes {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rendergraph: execute interrupted before pass %q: %w", p.scope.Pass(), err)
		}

		rec := &hostRecorder{graph: g, scope: p.scope}
		if err := p.record(rec); err != nil {
			return fmt.Errorf("rendergraph: pass %d %q: %w", i, p.scope.Pass(), err)
		}

		g.mu.Lock()
		g.stats.Passes++
		g.stats.Dispatches += rec.dispatches
		g.stats.Invocations += rec.invocations
		g.mu.Unlock()

		Logger().Debug("rendergraph: host pass executed",
			"pass", p.scope.Pass(),
			"dispatches", rec.dispatches,
			"invocations", rec.invocations)
	}

	g.mu.Lock()
	g.stats.Frames++
	g.stats.Elapsed += time.Since(start)
	g.mu.Unlock()
	return nil
}

// Stats returns a copy of the execution counters.
func (g *HostGraph) Stats() HostStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// hostRecorder resolves handles and dispatches kernels for one pass.
type hostRecorder struct {
	graph *HostGraph
	scope *Scope

	dispatches  uint64
	invocations uint64
}

func (r *hostRecorder) Resolve(id BufferID) (Handle, error) {
	if err := r.scope.Check(id); err != nil {
		return nil, err
	}
	b, err := r.graph.Buffer(id)
	if err != nil {
		return nil, err
	}
	return hostHandle{buf: b}, nil
}

func (r *hostRecorder) Dispatch(kernel *Kernel, handles []Handle, invocations uint32) error {
	if err := r.scope.CheckBindings(kernel, handles); err != nil {
		return err
	}
	if kernel.Host == nil {
		return fmt.Errorf("rendergraph: kernel %q has no host implementation", kernel.Name)
	}

	bufs := make([]*HostBuffer, len(handles))
	for i, h := range handles {
		hh, ok := h.(hostHandle)
		if !ok {
			return fmt.Errorf("rendergraph: kernel %q binding %d: handle %T not from a host graph", kernel.Name, i, h)
		}
		bufs[i] = hh.buf
	}

	host := kernel.Host
	r.graph.pool.Dispatch(invocations, func(inv uint32) {
		host(inv, bufs)
	})

	r.dispatches++
	r.invocations += uint64(invocations)
	return nil
}
