// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

// Package halgraph runs render graph passes on a gogpu/wgpu HAL device.
//
// Every declared pass becomes one compute pass of a single command buffer
// per Execute. WebGPU orders storage writes between compute passes, which
// provides the full barrier the rendergraph contract requires. Kernels are
// compiled lazily into a pipeline cache keyed by kernel name.
package halgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pointbucket/rendergraph"
)

// defaultFenceTimeout is the maximum time to wait for GPU work to complete.
const defaultFenceTimeout = 5 * time.Second

// Errors returned by the HAL graph.
var (
	// ErrNilDevice is returned when the graph is created without a device
	// or queue.
	ErrNilDevice = errors.New("halgraph: device and queue are required")

	// ErrNoHAL is returned when a device provider does not expose HAL
	// types.
	ErrNoHAL = errors.New("halgraph: provider does not expose HAL device")

	// ErrTimeout is returned when the device does not signal the frame
	// fence in time.
	ErrTimeout = errors.New("halgraph: GPU timeout")
)

// ShaderFormat selects how kernel sources reach the device.
type ShaderFormat int

const (
	// ShaderWGSL passes WGSL to the HAL, which compiles it itself.
	ShaderWGSL ShaderFormat = iota

	// ShaderSPIRV compiles WGSL to SPIR-V with naga first.
	ShaderSPIRV
)

// Option configures a Graph.
type Option func(*options)

type options struct {
	format  ShaderFormat
	timeout time.Duration
}

// WithShaderFormat selects the shader source format. Default: ShaderWGSL.
func WithShaderFormat(f ShaderFormat) Option {
	return func(o *options) { o.format = f }
}

// WithFenceTimeout sets how long Execute and ReadBuffer wait for the
// device. Default: 5s.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

type buffer struct {
	raw   hal.Buffer
	label string
	size  uint64
}

type pipeline struct {
	module         hal.ShaderModule
	bindLayout     hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	compute        hal.ComputePipeline
}

type pendingPass struct {
	scope  *rendergraph.Scope
	record rendergraph.RecordFunc
}

// Graph is a rendergraph.Graph backed by a HAL device.
//
// Thread safety: Graph is safe for concurrent use. Execute and ReadBuffer
// serialize on the device queue.
type Graph struct {
	mu      sync.Mutex
	device  hal.Device
	queue   hal.Queue
	opts    options
	tracker *rendergraph.Tracker

	buffers   map[rendergraph.BufferID]*buffer
	nextID    rendergraph.BufferID
	pending   []pendingPass
	pipelines map[string]*pipeline
	closed    bool

	// release destroys a device the graph opened itself.
	release func()
}

var _ rendergraph.Graph = (*Graph)(nil)

// New creates a graph on an existing device and queue. The caller keeps
// ownership of both.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Graph, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	o := options{timeout: defaultFenceTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Graph{
		device:    device,
		queue:     queue,
		opts:      o,
		tracker:   rendergraph.NewTracker(),
		buffers:   make(map[rendergraph.BufferID]*buffer),
		pipelines: make(map[string]*pipeline),
	}, nil
}

// NewFromProvider creates a graph on the device of a gpucontext provider,
// such as a gogpu application. The provider must implement HalDevice() any
// and HalQueue() any returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Graph, error) {
	if provider == nil {
		return nil, ErrNoHAL
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	return New(device, queue, opts...)
}

// Close destroys every buffer and pipeline, and the device if the graph
// opened it.
func (g *Graph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	for id, b := range g.buffers {
		g.device.DestroyBuffer(b.raw)
		delete(g.buffers, id)
	}
	for name, p := range g.pipelines {
		g.destroyPipeline(p)
		delete(g.pipelines, name)
	}
	g.pending = nil
	if g.release != nil {
		g.release()
	}
}

// CreateBuffer allocates a device buffer. Storage, CopyDst and CopySrc
// usage is always added so any buffer can be bound, uploaded and read back.
func (g *Graph) CreateBuffer(desc rendergraph.BufferDesc) (rendergraph.BufferID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return rendergraph.InvalidBuffer, rendergraph.ErrGraphClosed
	}

	size := (max(desc.Size, 4) + 3) &^ 3
	raw, err := g.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return rendergraph.InvalidBuffer, fmt.Errorf("halgraph: create buffer %q: %w", desc.Label, err)
	}

	g.nextID++
	id := g.nextID
	g.buffers[id] = &buffer{raw: raw, label: desc.Label, size: size}
	g.tracker.Add(id)

	rendergraph.Logger().Debug("halgraph: buffer created", "id", id, "label", desc.Label, "bytes", size)
	return id, nil
}

// bufferUsage adds the usages every graph buffer needs.
func bufferUsage(u gputypes.BufferUsage) gputypes.BufferUsage {
	u |= gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	if u&gputypes.BufferUsageUniform == 0 {
		u |= gputypes.BufferUsageStorage
	}
	return u
}

// DestroyBuffer releases a buffer.
func (g *Graph) DestroyBuffer(id rendergraph.BufferID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buffers[id]
	if !ok || g.closed {
		return
	}
	g.device.DestroyBuffer(b.raw)
	delete(g.buffers, id)
	g.tracker.Remove(id)
}

func (g *Graph) lookup(id rendergraph.BufferID) (*buffer, error) {
	if g.closed {
		return nil, rendergraph.ErrGraphClosed
	}
	b, ok := g.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", rendergraph.ErrUnknownBuffer, id)
	}
	return b, nil
}

// WriteBuffer uploads data through the queue.
func (g *Graph) WriteBuffer(id rendergraph.BufferID, offset uint64, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.lookup(id)
	if err != nil {
		return err
	}
	if offset%4 != 0 || len(data)%4 != 0 {
		return fmt.Errorf("halgraph: write to %q not word aligned (offset %d, len %d)", b.label, offset, len(data))
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write %q: %w", b.label, rendergraph.ErrOutOfRange)
	}
	g.queue.WriteBuffer(b.raw, offset, data)
	return g.tracker.MarkWritten(id)
}

// ReadBuffer copies a range into a staging buffer, waits for the device,
// and returns the bytes.
func (g *Graph) ReadBuffer(id rendergraph.BufferID, offset, size uint64) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	if offset%4 != 0 || size%4 != 0 {
		return nil, fmt.Errorf("halgraph: read from %q not word aligned (offset %d, size %d)", b.label, offset, size)
	}
	if offset+size > b.size {
		return nil, fmt.Errorf("read %q: %w", b.label, rendergraph.ErrOutOfRange)
	}
	if size == 0 {
		return []byte{}, nil
	}

	staging, err := g.device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label + "_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("halgraph: create staging buffer: %w", err)
	}
	defer g.device.DestroyBuffer(staging)

	encoder, err := g.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "halgraph_readback"})
	if err != nil {
		return nil, fmt.Errorf("halgraph: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("halgraph_readback"); err != nil {
		return nil, fmt.Errorf("halgraph: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(b.raw, staging, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: size},
	})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("halgraph: end encoding: %w", err)
	}
	defer g.device.FreeCommandBuffer(cmd)

	if err := g.submitAndWait(cmd); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	if err := g.queue.ReadBuffer(staging, 0, out); err != nil {
		return nil, fmt.Errorf("halgraph: readback %q: %w", b.label, err)
	}
	return out, nil
}

// AddPass validates and queues a pass.
func (g *Graph) AddPass(desc rendergraph.PassDesc, record rendergraph.RecordFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return rendergraph.ErrGraphClosed
	}
	scope, err := g.tracker.Declare(desc)
	if err != nil {
		return err
	}
	g.pending = append(g.pending, pendingPass{scope: scope, record: record})
	return nil
}

// frameResources tracks per-frame GPU resources for cleanup.
type frameResources struct {
	device     hal.Device
	bindGroups []hal.BindGroup
	cmd        hal.CommandBuffer
}

func (r *frameResources) cleanup() {
	if r.cmd != nil {
		r.device.FreeCommandBuffer(r.cmd)
	}
	for _, bg := range r.bindGroups {
		r.device.DestroyBindGroup(bg)
	}
}

// Execute encodes every pending pass into one command buffer, submits it
// and waits for the device. Cancellation is observed while encoding; once
// submitted, the frame runs to completion.
func (g *Graph) Execute(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return rendergraph.ErrGraphClosed
	}
	passes := g.pending
	g.pending = nil
	if len(passes) == 0 {
		return nil
	}

	res := &frameResources{device: g.device}
	defer res.cleanup()

	encoder, err := g.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "halgraph_frame"})
	if err != nil {
		return fmt.Errorf("halgraph: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("halgraph_frame"); err != nil {
		return fmt.Errorf("halgraph: begin encoding: %w", err)
	}

	for i, p := range passes {
		if err := ctx.Err(); err != nil {
			encoder.DiscardEncoding()
			return fmt.Errorf("halgraph: execute interrupted before pass %q: %w", p.scope.Pass(), err)
		}
		rec := &recorder{graph: g, scope: p.scope, encoder: encoder, res: res}
		if err := p.record(rec); err != nil {
			encoder.DiscardEncoding()
			return fmt.Errorf("halgraph: pass %d %q: %w", i, p.scope.Pass(), err)
		}
	}

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("halgraph: end encoding: %w", err)
	}
	res.cmd = cmd

	if err := g.submitAndWait(cmd); err != nil {
		return err
	}
	rendergraph.Logger().Debug("halgraph: frame executed",
		"passes", len(passes), "bind_groups", len(res.bindGroups))
	return nil
}

func (g *Graph) submitAndWait(cmd hal.CommandBuffer) error {
	fence, err := g.device.CreateFence()
	if err != nil {
		return fmt.Errorf("halgraph: create fence: %w", err)
	}
	defer g.device.DestroyFence(fence)

	if err := g.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		return fmt.Errorf("halgraph: submit: %w", err)
	}
	ok, err := g.device.Wait(fence, 1, g.opts.timeout)
	if err != nil {
		return fmt.Errorf("halgraph: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w after %v", ErrTimeout, g.opts.timeout)
	}
	return nil
}

// Pipelines returns the number of cached compute pipelines.
func (g *Graph) Pipelines() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pipelines)
}

// recorder encodes the dispatches of one pass.
type recorder struct {
	graph   *Graph
	scope   *rendergraph.Scope
	encoder hal.CommandEncoder
	res     *frameResources
}

type handle struct {
	id  rendergraph.BufferID
	raw hal.Buffer
}

func (h handle) ID() rendergraph.BufferID { return h.id }

func (r *recorder) Resolve(id rendergraph.BufferID) (rendergraph.Handle, error) {
	if err := r.scope.Check(id); err != nil {
		return nil, err
	}
	b, err := r.graph.lookup(id)
	if err != nil {
		return nil, err
	}
	return handle{id: id, raw: b.raw}, nil
}

func (r *recorder) Dispatch(kernel *rendergraph.Kernel, handles []rendergraph.Handle, invocations uint32) error {
	if err := r.scope.CheckBindings(kernel, handles); err != nil {
		return err
	}
	wg := kernel.Workgroups(invocations)
	if wg == 0 {
		return nil
	}

	p, err := r.graph.pipelineFor(kernel)
	if err != nil {
		return err
	}

	entries := make([]gputypes.BindGroupEntry, len(handles))
	for i, h := range handles {
		hh, ok := h.(handle)
		if !ok {
			return fmt.Errorf("halgraph: kernel %q binding %d: handle %T not from a HAL graph", kernel.Name, i, h)
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding: uint32(i), //nolint:gosec // binding count is small
			Resource: gputypes.BufferBinding{
				Buffer: hh.raw.NativeHandle(),
				Offset: 0,
				Size:   0, // 0 = entire buffer
			},
		}
	}
	bg, err := r.graph.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   r.scope.Pass() + "_bg",
		Layout:  p.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("halgraph: create bind group for %s: %w", kernel.Name, err)
	}
	r.res.bindGroups = append(r.res.bindGroups, bg)

	pass := r.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: r.scope.Pass()})
	pass.SetPipeline(p.compute)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(wg, 1, 1)
	pass.End()

	rendergraph.Logger().Debug("halgraph: dispatched",
		"pass", r.scope.Pass(), "kernel", kernel.Name, "workgroups", wg)
	return nil
}
