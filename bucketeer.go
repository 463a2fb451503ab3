package pointbucket

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pointbucket/rendergraph"
)

// Bucketeer errors.
var (
	// ErrNilGraph is returned when a bucketeer is created without a graph.
	ErrNilGraph = errors.New("pointbucket: render graph is required")

	// ErrInvalidResolution is returned for non-positive base resolutions.
	ErrInvalidResolution = errors.New("pointbucket: resolution must be positive")

	// ErrPhaseOrder is returned when a phase would run before one it
	// depends on.
	ErrPhaseOrder = errors.New("pointbucket: phase order violated")

	// ErrDestroyed is returned by operations on a destroyed bucketeer.
	ErrDestroyed = errors.New("pointbucket: bucketeer destroyed")

	// ErrVariantMismatch is returned when a snapshot is read from a result
	// of the other variant.
	ErrVariantMismatch = errors.New("pointbucket: result belongs to another variant")
)

// Variant selects a bucketing strategy.
type Variant int

const (
	// VariantArray buckets points into a dense entry pool.
	VariantArray Variant = iota

	// VariantList buckets points into per-bucket linked lists.
	VariantList
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case VariantArray:
		return "array"
	case VariantList:
		return "list"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// DefaultGroupsCount is the number of bucket groups of the array variant
// when Config.GroupsCount is zero.
const DefaultGroupsCount = 16

// Config configures a bucketeer. Buffers are sized from it once; a new
// resolution or point count requires Rebuild.
type Config struct {
	// Width, Height and Depth are the base bucket resolution. Depth 0
	// selects a 2D grid.
	Width, Height, Depth int

	// MaxMips caps the number of mip levels. Zero means no cap.
	MaxMips int

	// PointsCount is the number of points in the scene.
	PointsCount int

	// Sort enables per-bucket ordering by point sort key.
	Sort bool

	// GroupsCount is the number of bucket groups (array variant).
	// If 0, defaults to DefaultGroupsCount.
	GroupsCount int

	// MaxIndices overrides the entry pool capacity (array variant). If 0,
	// the documented bound Grid.MaxIndices(PointsCount) is used. Smaller
	// values violate the capacity contract; entries past the end are lost.
	MaxIndices int
}

// grid builds the configured pyramid.
func (c *Config) grid() *Grid {
	if c.Depth > 0 {
		return NewGrid3D(c.Width, c.Height, c.Depth, c.MaxMips)
	}
	return NewGrid2D(c.Width, c.Height, c.MaxMips)
}

func (c *Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 || c.Depth < 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrInvalidResolution, c.Width, c.Height, c.Depth)
	}
	if c.PointsCount < 0 {
		return fmt.Errorf("pointbucket: negative points count %d", c.PointsCount)
	}
	return nil
}

// Result names the buffers a completed frame leaves for gather passes to
// bind read-only. Ids stay valid until the next Rebuild or Destroy.
type Result struct {
	Variant Variant

	// Params is the uniform block shared by all kernels.
	Params rendergraph.BufferID

	// MipInfos is the mip table (MipInfo per level).
	MipInfos rendergraph.BufferID

	// Buckets is the bucket table: Bucket (array) or ListBucket (list).
	Buckets rendergraph.BufferID

	// Entries is the entry pool of BucketEntry (array).
	Entries rendergraph.BufferID

	// Groups is the BucketGroup table (array).
	Groups rendergraph.BufferID

	// GroupBuckets lists bucket indices per group range (array).
	GroupBuckets rendergraph.BufferID

	// Nodes is the PointNode list storage, one per point (list).
	Nodes rendergraph.BufferID

	// Blocks is the BlockPointNode index, one per point (list).
	Blocks rendergraph.BufferID
}

// Bucketeer is one bucketing strategy. Both strategies share the grid
// descriptor and the Clear/Fill ordering contract, so gather code can swap
// them by binding the Result buffers of the variant it was written for.
type Bucketeer interface {
	// Variant returns the strategy.
	Variant() Variant

	// Grid returns the mip pyramid.
	Grid() *Grid

	// Config returns the configuration the buffers were sized from.
	Config() Config

	// Plan returns the phases one frame records, in order.
	Plan() []Phase

	// Record adds one frame's passes to the graph. points must hold
	// Config.PointsCount PointInput records and have been written.
	Record(points rendergraph.BufferID) (Result, error)

	// Clear adds only the clear pass.
	Clear() error

	// Result returns the buffers of the current build.
	Result() Result

	// State returns the lifecycle state of the last executed frame.
	State() State

	// MarkConsumed records that a gather stage has read the frame.
	MarkConsumed() error

	// Rebuild destroys every buffer and recreates them for cfg.
	Rebuild(cfg Config) error

	// Destroy releases all buffers.
	Destroy()
}

// Option configures a bucketeer during creation.
type Option func(*options)

type options struct {
	logger *slog.Logger
	label  string
}

// WithLogger sets the logger of one bucketeer, overriding the package
// logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLabel prefixes buffer and pass labels, which helps when several
// bucketeers share one graph.
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// core holds what both strategies share: the graph, the grid, the params
// and mip buffers, and the phase tracker.
type core struct {
	mu sync.Mutex

	graph   rendergraph.Graph
	variant Variant
	cfg     Config
	grid    *Grid
	plan    []Phase
	frame   *frameTracker
	opts    options

	params  rendergraph.BufferID
	mips    rendergraph.BufferID
	buffers []rendergraph.BufferID

	destroyed bool
}

func newCore(g rendergraph.Graph, v Variant, cfg *Config, opts []Option) (*core, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if cfg == nil {
		return nil, fmt.Errorf("pointbucket: config is required")
	}
	c := &core{graph: g, variant: v}
	for _, opt := range opts {
		opt(&c.opts)
	}
	if c.opts.label == "" {
		c.opts.label = v.String()
	}
	if err := c.configure(*cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *core) log() *slog.Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	return Logger()
}

// configure applies defaults, builds the grid and uploads params and mips.
func (c *core) configure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.GroupsCount <= 0 {
		cfg.GroupsCount = DefaultGroupsCount
	}
	c.cfg = cfg
	c.grid = cfg.grid()

	points := uint32(cfg.PointsCount) //nolint:gosec // validated non-negative
	maxIndices := c.grid.MaxIndices(points)
	if cfg.MaxIndices > 0 {
		maxIndices = uint32(cfg.MaxIndices) //nolint:gosec // positive
	}

	params := Params{
		PointsCount:  points,
		MipCount:     uint32(c.grid.MipCount()), //nolint:gosec // small
		TotalBuckets: c.grid.TotalBuckets(),
		MaxIndices:   maxIndices,
		GroupsCount:  uint32(cfg.GroupsCount), //nolint:gosec // positive
		Dims:         uint32(c.grid.Dims()),   //nolint:gosec // 2 or 3
		MaxDim:       uint32(c.grid.MaxDim()), //nolint:gosec // positive
	}

	var err error
	if c.params, err = c.upload("params", gputypes.BufferUsageUniform, params.bytes()); err != nil {
		return err
	}
	if c.mips, err = c.upload("mip_infos", gputypes.BufferUsageStorage, c.grid.mipInfoBytes()); err != nil {
		return err
	}

	c.log().Debug("pointbucket: grid configured",
		"variant", c.variant.String(),
		"dims", c.grid.Dims(),
		"mips", c.grid.MipCount(),
		"total_buckets", c.grid.TotalBuckets(),
		"points", cfg.PointsCount,
		"max_indices", maxIndices)
	return nil
}

func (c *core) maxIndices() uint32 {
	if c.cfg.MaxIndices > 0 {
		return uint32(c.cfg.MaxIndices) //nolint:gosec // positive
	}
	return c.grid.MaxIndices(uint32(c.cfg.PointsCount)) //nolint:gosec // validated
}

// create allocates a storage buffer owned by the bucketeer.
func (c *core) create(name string, size uint64, usage gputypes.BufferUsage) (rendergraph.BufferID, error) {
	id, err := c.graph.CreateBuffer(rendergraph.BufferDesc{
		Label: c.opts.label + "_" + name,
		Size:  max(size, 4),
		Usage: usage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return rendergraph.InvalidBuffer, fmt.Errorf("pointbucket: create %s buffer: %w", name, err)
	}
	c.buffers = append(c.buffers, id)
	return id, nil
}

// upload creates a buffer and writes data into it.
func (c *core) upload(name string, usage gputypes.BufferUsage, data []byte) (rendergraph.BufferID, error) {
	id, err := c.create(name, uint64(len(data)), usage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return id, err
	}
	if err := c.graph.WriteBuffer(id, 0, data); err != nil {
		return id, fmt.Errorf("pointbucket: upload %s: %w", name, err)
	}
	return id, nil
}

// release destroys every buffer the bucketeer created.
func (c *core) release() {
	for _, id := range c.buffers {
		c.graph.DestroyBuffer(id)
	}
	c.buffers = nil
	c.params, c.mips = rendergraph.InvalidBuffer, rendergraph.InvalidBuffer
}

// pass declares one phase. Its record callback resolves ids in binding
// order, dispatches kernel over invocations, and keeps the frame tracker in
// step with execution.
func (c *core) pass(
	phase Phase,
	kernel *rendergraph.Kernel,
	invocations uint32,
	reads, writes []rendergraph.BufferID,
	bindings []rendergraph.BufferID,
) error {
	desc := rendergraph.PassDesc{
		Name:   c.opts.label + "_" + phase.String(),
		Reads:  reads,
		Writes: writes,
	}
	frame := c.frame
	logger := c.log()
	return c.graph.AddPass(desc, func(rec rendergraph.Recorder) error {
		if err := frame.begin(phase); err != nil {
			return err
		}
		handles, err := rendergraph.Resolve(rec, bindings...)
		if err != nil {
			return err
		}
		if err := rec.Dispatch(kernel, handles, invocations); err != nil {
			return err
		}
		frame.end(phase)
		logger.Debug("pointbucket: phase complete",
			"pass", desc.Name, "invocations", invocations)
		return nil
	})
}

func (c *core) checkLive() error {
	if c.destroyed {
		return ErrDestroyed
	}
	return nil
}

func (c *core) state() State {
	return c.frame.current()
}

// Variant returns the bucketing strategy.
func (c *core) Variant() Variant { return c.variant }

// Grid returns the mip pyramid of the current build.
func (c *core) Grid() *Grid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grid
}

// Config returns the configuration with defaults applied.
func (c *core) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Plan returns a copy of the phases one frame records.
func (c *core) Plan() []Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Phase(nil), c.plan...)
}

// State returns the lifecycle state of the last executed phase.
func (c *core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		return StateUninitialized
	}
	return c.state()
}

// MarkConsumed moves a filled or sorted frame to StateConsumed.
func (c *core) MarkConsumed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(); err != nil {
		return err
	}
	return c.frame.consume()
}

// Destroy releases every buffer. Later calls other than Destroy fail with
// ErrDestroyed.
func (c *core) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.release()
	c.destroyed = true
	c.log().Debug("pointbucket: bucketeer destroyed", "label", c.opts.label)
}

// rebuild validates cfg, then replaces every buffer. alloc creates the
// variant's buffers after params and mips exist and returns the new plan.
// A failure after the old buffers are gone leaves the bucketeer destroyed.
func (c *core) rebuild(cfg Config, alloc func() ([]Phase, error)) error {
	if err := c.checkLive(); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	c.release()
	err := c.configure(cfg)
	if err == nil {
		err = c.build(alloc)
	}
	if err != nil {
		c.release()
		c.plan, c.frame = nil, nil
		c.destroyed = true
		c.log().Warn("pointbucket: rebuild failed, bucketeer destroyed",
			"label", c.opts.label, "error", err)
		return err
	}
	return nil
}

// build runs the variant allocator and installs a fresh frame tracker.
func (c *core) build(alloc func() ([]Phase, error)) error {
	plan, err := alloc()
	if err != nil {
		c.release()
		return err
	}
	if err := ValidatePlan(c.variant, plan); err != nil {
		c.release()
		return err
	}
	c.plan = plan
	c.frame = newFrameTracker(c.variant, plan)
	return nil
}
