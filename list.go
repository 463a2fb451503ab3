// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package pointbucket

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/pointbucket/rendergraph"
)

// ListBucketeer buckets points into per-bucket singly linked lists threaded
// through a node per point. Filling needs no counting pass: each point is
// pushed onto its bucket's head with one atomic exchange. A block index
// built after fill lets gathers fetch four list positions per indirection.
//
// Pipeline per frame:
//
//	clear -> fill [-> sort] -> block_sort
//
// Thread safety: ListBucketeer is safe for concurrent use.
type ListBucketeer struct {
	*core

	buckets rendergraph.BufferID
	nodes   rendergraph.BufferID
	blocks  rendergraph.BufferID
}

var _ Bucketeer = (*ListBucketeer)(nil)

// NewListBucketeer creates the list strategy on g and allocates its buffers
// for cfg. Config.GroupsCount and Config.MaxIndices are ignored.
func NewListBucketeer(g rendergraph.Graph, cfg Config, opts ...Option) (*ListBucketeer, error) {
	c, err := newCore(g, VariantList, &cfg, opts)
	if err != nil {
		return nil, err
	}
	l := &ListBucketeer{core: c}
	if err := c.build(l.alloc); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ListBucketeer) alloc() ([]Phase, error) {
	total := uint64(l.grid.TotalBuckets())
	points := uint64(l.cfg.PointsCount) //nolint:gosec // validated non-negative
	storage := gputypes.BufferUsageStorage

	var err error
	if l.buckets, err = l.create("buckets", total*ListBucketSize, storage); err != nil {
		return nil, err
	}
	if l.nodes, err = l.create("nodes", points*PointNodeSize, storage); err != nil {
		return nil, err
	}
	if l.blocks, err = l.create("blocks", points*BlockPointNodeSize, storage); err != nil {
		return nil, err
	}

	plan := []Phase{PhaseClear, PhaseFill}
	if l.cfg.Sort {
		plan = append(plan, PhaseSort)
	}
	return append(plan, PhaseBlockSort), nil
}

// Record adds one frame's passes to the graph.
func (l *ListBucketeer) Record(points rendergraph.BufferID) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLive(); err != nil {
		return Result{}, err
	}
	for _, p := range l.plan {
		if err := l.record(p, points); err != nil {
			return Result{}, fmt.Errorf("pointbucket: record %s %s: %w", l.variant, p, err)
		}
	}
	return l.result(), nil
}

// Clear adds only the clear pass.
func (l *ListBucketeer) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLive(); err != nil {
		return err
	}
	return l.record(PhaseClear, rendergraph.InvalidBuffer)
}

func (l *ListBucketeer) record(p Phase, points rendergraph.BufferID) error {
	type ids = []rendergraph.BufferID

	total := l.grid.TotalBuckets()
	n := uint32(l.cfg.PointsCount) //nolint:gosec // validated non-negative
	prm, mips := l.params, l.mips

	switch p {
	case PhaseClear:
		return l.pass(p, kernelListClear, total,
			ids{prm}, ids{l.buckets},
			ids{prm, l.buckets})
	case PhaseFill:
		return l.pass(p, kernelListFill, n,
			ids{prm, mips, points}, ids{l.buckets, l.nodes},
			ids{prm, mips, points, l.buckets, l.nodes})
	case PhaseSort:
		return l.pass(p, kernelListSort, total,
			ids{prm}, ids{l.buckets, l.nodes},
			ids{prm, l.buckets, l.nodes})
	case PhaseBlockSort:
		return l.pass(p, kernelListBlockSort, total,
			ids{prm, l.nodes}, ids{l.buckets, l.blocks},
			ids{prm, l.buckets, l.nodes, l.blocks})
	default:
		return fmt.Errorf("%w: phase %s not part of %s pipeline", ErrPhaseOrder, p, l.variant)
	}
}

// Result returns the buffers of the current build.
func (l *ListBucketeer) Result() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result()
}

func (l *ListBucketeer) result() Result {
	return Result{
		Variant:  VariantList,
		Params:   l.params,
		MipInfos: l.mips,
		Buckets:  l.buckets,
		Nodes:    l.nodes,
		Blocks:   l.blocks,
	}
}

// Rebuild destroys every buffer and recreates them for cfg.
func (l *ListBucketeer) Rebuild(cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rebuild(cfg, l.alloc)
}
