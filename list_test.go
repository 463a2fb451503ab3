// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package pointbucket

import (
	"slices"
	"testing"
)

func TestListBucketeer_BlockIndex(t *testing.T) {
	for _, n := range []int{1, 3, 4, 5, 8, 11} {
		points := clustered(n)
		s := newScene(t, points)
		b, err := NewListBucketeer(s.graph, Config{Width: 4, Height: 4, PointsCount: n, Sort: true})
		if err != nil {
			t.Fatalf("n=%d: NewListBucketeer: %v", n, err)
		}
		res := s.frame(t, b)
		s.check(t, b, res)

		snap, err := ReadList(s.graph, res)
		if err != nil {
			t.Fatalf("n=%d: ReadList: %v", n, err)
		}
		list, err := snap.BucketPoints(6)
		if err != nil {
			t.Fatalf("n=%d: BucketPoints: %v", n, err)
		}

		// clustered keys descend with the index, so the sorted list runs
		// from the last point to the first.
		want := make([]uint32, n)
		for i := range want {
			want[i] = uint32(n - 1 - i) //nolint:gosec // small
		}
		if !slices.Equal(list, want) {
			t.Fatalf("n=%d: list = %v, want %v", n, list, want)
		}

		// Block heads sit at positions 0, 4, 8, ...
		for pos := 0; pos < n; pos += 4 {
			head := list[pos]
			next := snap.Blocks[head].NextPointIndex
			for k := range 4 {
				want := InvalidIndex
				if pos+1+k < n {
					want = list[pos+1+k]
				}
				if next[k] != want {
					t.Errorf("n=%d: block %d slot %d = %d, want %d", n, head, k, next[k], want)
				}
			}
		}
	}
}

func TestListBucketeer_Plan(t *testing.T) {
	s := newScene(t, nil)
	b, err := NewListBucketeer(s.graph, Config{Width: 8, Height: 8, Depth: 8, PointsCount: 4})
	if err != nil {
		t.Fatalf("NewListBucketeer: %v", err)
	}
	if want := []Phase{PhaseClear, PhaseFill, PhaseBlockSort}; !slices.Equal(b.Plan(), want) {
		t.Errorf("Plan() = %v, want %v", b.Plan(), want)
	}
	if b.Grid().Dims() != 3 {
		t.Errorf("Dims() = %d, want 3", b.Grid().Dims())
	}
	res := b.Result()
	if res.Entries != 0 || res.Groups != 0 || res.Nodes == 0 || res.Blocks == 0 {
		t.Errorf("Result() = %+v", res)
	}
}

func TestListSnapshot_DetectsCycle(t *testing.T) {
	snap := &ListSnapshot{
		Params:  Params{PointsCount: 2, TotalBuckets: 1},
		Buckets: []ListBucket{{HeadPointIndex: 0, PointsCount: 2, BlockHeadPointIndex: 0}},
		Nodes:   []PointNode{{NextPointIndex: 1}, {NextPointIndex: 0}},
	}
	if _, err := snap.BucketPoints(0); err == nil {
		t.Error("cyclic list walked without error")
	}
	if snap.Digest() != 0 {
		t.Error("broken list should digest as zero")
	}
}
