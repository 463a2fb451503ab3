// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package pointbucket

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pointbucket/rendergraph"
)

// ArrayBucketeer buckets points into a dense entry pool. Each bucket owns a
// contiguous pool range sized by a counting pass, so gathers read a bucket
// with one offset and one count. Occupied buckets are also partitioned into
// groups by occupancy, letting gathers dispatch evenly loaded work.
//
// Pipeline per frame:
//
//	clear -> count -> alloc -> fill [-> sort] -> group_clear -> group_count
//	      -> group_alloc -> group_fill [-> group_sort]
//
// Thread safety: ArrayBucketeer is safe for concurrent use. Passes recorded
// from several goroutines still execute in graph order.
type ArrayBucketeer struct {
	*core

	buckets      rendergraph.BufferID
	cursors      rendergraph.BufferID
	counters     rendergraph.BufferID
	entries      rendergraph.BufferID
	groups       rendergraph.BufferID
	groupCursors rendergraph.BufferID
	groupBuckets rendergraph.BufferID
}

var _ Bucketeer = (*ArrayBucketeer)(nil)

// NewArrayBucketeer creates the array strategy on g and allocates its
// buffers for cfg.
func NewArrayBucketeer(g rendergraph.Graph, cfg Config, opts ...Option) (*ArrayBucketeer, error) {
	c, err := newCore(g, VariantArray, &cfg, opts)
	if err != nil {
		return nil, err
	}
	a := &ArrayBucketeer{core: c}
	if err := c.build(a.alloc); err != nil {
		return nil, err
	}
	return a, nil
}

// alloc creates the variant's buffers and returns its plan.
func (a *ArrayBucketeer) alloc() ([]Phase, error) {
	total := uint64(a.grid.TotalBuckets())
	groups := uint64(a.cfg.GroupsCount) //nolint:gosec // positive after defaults
	storage := gputypes.BufferUsageStorage

	var err error
	create := func(name string, size uint64) rendergraph.BufferID {
		if err != nil {
			return rendergraph.InvalidBuffer
		}
		var id rendergraph.BufferID
		id, err = a.create(name, size, storage)
		return id
	}
	a.buckets = create("buckets", total*BucketSize)
	a.cursors = create("cursors", total*4)
	a.counters = create("counters", countersWords*4)
	a.entries = create("entries", uint64(a.maxIndices())*BucketEntrySize)
	a.groups = create("groups", groups*BucketGroupSize)
	a.groupCursors = create("group_cursors", groups*4)
	a.groupBuckets = create("group_buckets", total*4)
	if err != nil {
		return nil, err
	}

	plan := []Phase{PhaseClear, PhaseCount, PhaseAlloc, PhaseFill}
	if a.cfg.Sort {
		plan = append(plan, PhaseSort)
	}
	plan = append(plan, PhaseGroupClear, PhaseGroupCount, PhaseGroupAlloc, PhaseGroupFill)
	if a.cfg.Sort {
		plan = append(plan, PhaseGroupSort)
	}
	return plan, nil
}

// Record adds one frame's passes to the graph.
func (a *ArrayBucketeer) Record(points rendergraph.BufferID) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkLive(); err != nil {
		return Result{}, err
	}
	for _, p := range a.plan {
		if err := a.record(p, points); err != nil {
			return Result{}, fmt.Errorf("pointbucket: record %s %s: %w", a.variant, p, err)
		}
	}
	return a.result(), nil
}

// Clear adds only the clear pass. The buffers hold an empty frame once the
// graph executes it.
func (a *ArrayBucketeer) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkLive(); err != nil {
		return err
	}
	return a.record(PhaseClear, rendergraph.InvalidBuffer)
}

func (a *ArrayBucketeer) record(p Phase, points rendergraph.BufferID) error {
	type ids = []rendergraph.BufferID

	total := a.grid.TotalBuckets()
	groups := uint32(a.cfg.GroupsCount) //nolint:gosec // positive after defaults
	n := uint32(a.cfg.PointsCount)      //nolint:gosec // validated non-negative
	prm, mips := a.params, a.mips

	switch p {
	case PhaseClear:
		return a.pass(p, kernelArrayClear, total,
			ids{prm}, ids{a.buckets, a.cursors, a.counters},
			ids{prm, a.buckets, a.cursors, a.counters})
	case PhaseCount:
		return a.pass(p, kernelArrayCount, n,
			ids{prm, mips, points}, ids{a.buckets},
			ids{prm, mips, points, a.buckets})
	case PhaseAlloc:
		return a.pass(p, kernelArrayAlloc, total,
			ids{prm}, ids{a.buckets, a.cursors, a.counters},
			ids{prm, a.buckets, a.cursors, a.counters})
	case PhaseFill:
		return a.pass(p, kernelArrayFill, n,
			ids{prm, mips, points}, ids{a.cursors, a.entries},
			ids{prm, mips, points, a.cursors, a.entries})
	case PhaseSort:
		return a.pass(p, kernelArraySort, total,
			ids{prm, points, a.buckets}, ids{a.entries},
			ids{prm, points, a.buckets, a.entries})
	case PhaseGroupClear:
		return a.pass(p, kernelGroupClear, groups,
			ids{prm}, ids{a.groups, a.groupCursors, a.counters},
			ids{prm, a.groups, a.groupCursors, a.counters})
	case PhaseGroupCount:
		return a.pass(p, kernelGroupCount, total,
			ids{prm, a.buckets}, ids{a.groups},
			ids{prm, a.buckets, a.groups})
	case PhaseGroupAlloc:
		return a.pass(p, kernelGroupAlloc, groups,
			ids{prm}, ids{a.groups, a.groupCursors, a.counters},
			ids{prm, a.groups, a.groupCursors, a.counters})
	case PhaseGroupFill:
		return a.pass(p, kernelGroupFill, total,
			ids{prm, a.buckets}, ids{a.groupCursors, a.groupBuckets},
			ids{prm, a.buckets, a.groupCursors, a.groupBuckets})
	case PhaseGroupSort:
		return a.pass(p, kernelGroupSort, groups,
			ids{prm, a.groups}, ids{a.groupBuckets},
			ids{prm, a.groups, a.groupBuckets})
	default:
		return fmt.Errorf("%w: phase %s not part of %s pipeline", ErrPhaseOrder, p, a.variant)
	}
}

// Result returns the buffers of the current build.
func (a *ArrayBucketeer) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result()
}

func (a *ArrayBucketeer) result() Result {
	return Result{
		Variant:      VariantArray,
		Params:       a.params,
		MipInfos:     a.mips,
		Buckets:      a.buckets,
		Entries:      a.entries,
		Groups:       a.groups,
		GroupBuckets: a.groupBuckets,
	}
}

// Rebuild destroys every buffer and recreates them for cfg. Buffer ids from
// earlier Results become invalid.
func (a *ArrayBucketeer) Rebuild(cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rebuild(cfg, a.alloc)
}
