// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package pointbucket

import (
	"errors"
	"slices"
	"testing"
)

// cellCenter returns the center of bucket (x, y) of a size x size level.
func cellCenter(x, y, size int) [3]float32 {
	return [3]float32{(float32(x) + 0.5) / float32(size), (float32(y) + 0.5) / float32(size), 0}
}

func clustered(n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{Position: cellCenter(2, 1, 4), SortKey: float32(n - i)}
	}
	return points
}

// clustered points sit in level-0 bucket 6 of a 4x4 grid, which casts
// them into buckets 17 and 20 of the coarser levels.
var clusteredBuckets = []uint32{6, 17, 20}

func TestArrayBucketeer_CapacityBoundary(t *testing.T) {
	points := clustered(64)
	tests := []struct {
		name       string
		maxIndices int
		want       uint32
	}{
		{"default bound", 0, 64*4 + 21},
		{"exact fit", 64 * 3, 64 * 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScene(t, points)
			b, err := NewArrayBucketeer(s.graph, Config{
				Width: 4, Height: 4, PointsCount: len(points), Sort: true, MaxIndices: tt.maxIndices,
			})
			if err != nil {
				t.Fatalf("NewArrayBucketeer: %v", err)
			}
			res := s.frame(t, b)
			s.check(t, b, res)

			snap, err := ReadArray(s.graph, res)
			if err != nil {
				t.Fatalf("ReadArray: %v", err)
			}
			if snap.Params.MaxIndices != tt.want {
				t.Errorf("MaxIndices = %d, want %d", snap.Params.MaxIndices, tt.want)
			}
			for _, bucket := range clusteredBuckets {
				if got := snap.Buckets[bucket].PointsCount; got != 64 {
					t.Errorf("bucket %d holds %d points, want 64", bucket, got)
				}
			}
			if g := snap.GroupOf(64); g != 6 || snap.Groups[6].BucketsCount != 3 {
				t.Errorf("64-point buckets in group %d, group 6 holds %d", g, snap.Groups[6].BucketsCount)
			}
		})
	}
}

func TestArrayBucketeer_PoolOverflowIsContained(t *testing.T) {
	points := clustered(64)
	s := newScene(t, points)
	b, err := NewArrayBucketeer(s.graph, Config{
		Width: 4, Height: 4, PointsCount: len(points), MaxIndices: 64*3 - 1,
	})
	if err != nil {
		t.Fatalf("NewArrayBucketeer: %v", err)
	}
	res := s.frame(t, b)

	snap, err := ReadArray(s.graph, res)
	if err != nil {
		t.Fatalf("ReadArray: %v", err)
	}
	if len(snap.Entries) != 64*3-1 {
		t.Fatalf("pool holds %d slots, want %d", len(snap.Entries), 64*3-1)
	}
	stored := 0
	for _, bucket := range clusteredBuckets {
		if got := snap.Buckets[bucket].PointsCount; got != 64 {
			t.Errorf("bucket %d count = %d, want 64", bucket, got)
		}
		stored += len(snap.BucketPoints(bucket))
	}
	if stored != 64*3-1 {
		t.Errorf("BucketPoints returned %d entries, want the %d that fit", stored, 64*3-1)
	}
	if err := snap.Validate(b.Grid(), points, false); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Validate on overflowed pool: err = %v, want ErrCorrupt", err)
	}
}

func TestArrayBucketeer_PointInEveryLevel(t *testing.T) {
	tests := []struct {
		name   string
		radius float32
		want   []uint32
	}{
		{"primary level 0", 0, []uint32{6, 17, 20}},
		{"primary level 1", 0.25, []uint32{17, 20}},
		{"primary last level", 10, []uint32{20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := []Point{{Position: cellCenter(2, 1, 4), Radius: tt.radius}}
			s := newScene(t, points)
			b, err := NewArrayBucketeer(s.graph, Config{Width: 4, Height: 4, PointsCount: 1})
			if err != nil {
				t.Fatalf("NewArrayBucketeer: %v", err)
			}
			res := s.frame(t, b)
			s.check(t, b, res)

			snap, err := ReadArray(s.graph, res)
			if err != nil {
				t.Fatalf("ReadArray: %v", err)
			}
			var got []uint32
			for bucket := range uint32(len(snap.Buckets)) { //nolint:gosec // small grid
				switch pts := snap.BucketPoints(bucket); {
				case len(pts) == 0:
				case len(pts) == 1 && pts[0] == 0:
					got = append(got, bucket)
				default:
					t.Fatalf("bucket %d holds %v", bucket, pts)
				}
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("point 0 in buckets %v, want %v", got, tt.want)
			}
			if !slices.Equal(b.Grid().LocateAll(points[0]), tt.want) {
				t.Errorf("LocateAll = %v, want %v", b.Grid().LocateAll(points[0]), tt.want)
			}
		})
	}
}

func TestArrayBucketeer_LevelSums(t *testing.T) {
	points := Scatter(10000, 2, 42)
	s := newScene(t, points)
	b, err := NewArrayBucketeer(s.graph, Config{Width: 512, Height: 512, PointsCount: len(points)})
	if err != nil {
		t.Fatalf("NewArrayBucketeer: %v", err)
	}
	res := s.frame(t, b)
	s.check(t, b, res)

	snap, err := ReadArray(s.graph, res)
	if err != nil {
		t.Fatalf("ReadArray: %v", err)
	}
	var used uint32
	for lvl, l := range b.Grid().Levels() {
		var sum uint32
		for _, bk := range snap.Buckets[l.BucketIndexOffset : l.BucketIndexOffset+l.BucketsCount()] {
			sum += bk.PointsCount
		}
		if sum != 10000 {
			t.Errorf("level %d holds %d points, want 10000", lvl, sum)
		}
		used += sum
	}
	if used > snap.Params.MaxIndices {
		t.Errorf("pool uses %d of %d entries", used, snap.Params.MaxIndices)
	}
}

func TestArrayBucketeer_Groups(t *testing.T) {
	// Bucket k of level 0 receives k+1 points, for k in {0, 1, 2, 3, 5}.
	// Level 1 bucket 16 then holds 9 points, bucket 17 holds 7, and the
	// single level 2 bucket 20 holds all 21.
	var points []Point
	for _, k := range []int{0, 1, 2, 3, 5} {
		for range k + 1 {
			points = append(points, Point{Position: cellCenter(k%4, k/4, 4)})
		}
	}

	s := newScene(t, points)
	b, err := NewArrayBucketeer(s.graph, Config{
		Width: 4, Height: 4, PointsCount: len(points), Sort: true, GroupsCount: 4,
	})
	if err != nil {
		t.Fatalf("NewArrayBucketeer: %v", err)
	}
	if b.Config().GroupsCount != 4 {
		t.Fatalf("GroupsCount = %d, want 4", b.Config().GroupsCount)
	}
	res := s.frame(t, b)
	s.check(t, b, res)

	snap, err := ReadArray(s.graph, res)
	if err != nil {
		t.Fatalf("ReadArray: %v", err)
	}

	want := []struct {
		count, global uint32
		buckets       []uint32
	}{
		{1, 0, []uint32{0}},        // 1 point
		{2, 1, []uint32{1, 2}},     // 2 and 3 points
		{3, 3, []uint32{3, 5, 17}}, // 4, 6 and 7 points
		{2, 6, []uint32{16, 20}},   // 9 and 21 points, clamped

	}
	for g, w := range want {
		grp := snap.Groups[g]
		if grp.BucketsCount != w.count || grp.BucketIndexGlobalOffset != w.global {
			t.Errorf("group %d = %+v, want count %d global %d", g, grp, w.count, w.global)
			continue
		}
		got := snap.GroupBuckets[grp.BucketIndexOffset : grp.BucketIndexOffset+grp.BucketsCount]
		if !slices.Equal(got, w.buckets) {
			t.Errorf("group %d buckets = %v, want %v", g, got, w.buckets)
		}
	}
}

func TestArrayBucketeer_DefaultsAndPlan(t *testing.T) {
	s := newScene(t, nil)
	b, err := NewArrayBucketeer(s.graph, Config{Width: 512, Height: 512, PointsCount: 10000})
	if err != nil {
		t.Fatalf("NewArrayBucketeer: %v", err)
	}
	if b.Config().GroupsCount != DefaultGroupsCount {
		t.Errorf("GroupsCount = %d, want %d", b.Config().GroupsCount, DefaultGroupsCount)
	}

	snapParams, _, err := readHeader(s.graph, b.Result())
	if err != nil {
		t.Fatalf("readHeader: %v", err)
	}
	if snapParams.MaxIndices != 10000*10+349525 {
		t.Errorf("MaxIndices = %d", snapParams.MaxIndices)
	}
	if snapParams.TotalBuckets != 349525 || snapParams.MipCount != 10 {
		t.Errorf("params = %+v", snapParams)
	}

	want := []Phase{
		PhaseClear, PhaseCount, PhaseAlloc, PhaseFill,
		PhaseGroupClear, PhaseGroupCount, PhaseGroupAlloc, PhaseGroupFill,
	}
	if !slices.Equal(b.Plan(), want) {
		t.Errorf("Plan() = %v, want %v", b.Plan(), want)
	}
}
