// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package pointbucket

import (
	"math"
	"sort"
)

// MaxFanOut is the smallest per-point multiplier of the array variant's
// default entry pool. Pyramids deeper than MaxFanOut levels use their level
// count instead, see Grid.FanOut.
const MaxFanOut = 4

// MipLevel is one level of the bucket pyramid.
type MipLevel struct {
	// Size is the bucket grid size of the level. Size[2] is 1 for 2D grids.
	Size [3]int32

	// BucketIndexOffset is the global index of the level's first bucket.
	BucketIndexOffset uint32
}

// BucketsCount returns the number of buckets in the level.
func (l MipLevel) BucketsCount() uint32 {
	return uint32(l.Size[0]) * uint32(l.Size[1]) * uint32(l.Size[2]) //nolint:gosec // sizes are positive
}

// Grid is the mip pyramid of buckets over a 2D or 3D base resolution.
//
// Levels partition [0, TotalBuckets) contiguously in level order. Each level
// halves every active dimension of the previous one; the pyramid ends before
// any dimension would reach zero or when the mip cap is reached.
type Grid struct {
	dims         int
	levels       []MipLevel
	totalBuckets uint32
}

// NewGrid2D builds the pyramid for a width x height base grid.
// maxMips <= 0 means no cap.
func NewGrid2D(width, height, maxMips int) *Grid {
	return newGrid(2, [3]int{width, height, 1}, maxMips)
}

// NewGrid3D builds the pyramid for a width x height x depth base grid.
// maxMips <= 0 means no cap.
func NewGrid3D(width, height, depth, maxMips int) *Grid {
	return newGrid(3, [3]int{width, height, depth}, maxMips)
}

func newGrid(dims int, base [3]int, maxMips int) *Grid {
	g := &Grid{dims: dims}

	size := base
	var offset uint32
	for {
		if maxMips > 0 && len(g.levels) == maxMips {
			break
		}
		if !positive(size, dims) {
			break
		}

		lvl := MipLevel{
			Size:              [3]int32{int32(size[0]), int32(size[1]), int32(size[2])}, //nolint:gosec // grid sizes fit int32
			BucketIndexOffset: offset,
		}
		g.levels = append(g.levels, lvl)
		offset += lvl.BucketsCount()

		for d := 0; d < dims; d++ {
			size[d] >>= 1
		}
	}
	g.totalBuckets = offset
	return g
}

func positive(size [3]int, dims int) bool {
	for d := 0; d < dims; d++ {
		if size[d] <= 0 {
			return false
		}
	}
	return true
}

// Dims returns 2 or 3.
func (g *Grid) Dims() int { return g.dims }

// MipCount returns the number of levels.
func (g *Grid) MipCount() int { return len(g.levels) }

// Level returns level i.
func (g *Grid) Level(i int) MipLevel { return g.levels[i] }

// Levels returns a copy of all levels.
func (g *Grid) Levels() []MipLevel {
	out := make([]MipLevel, len(g.levels))
	copy(out, g.levels)
	return out
}

// TotalBuckets returns the number of buckets across all levels.
func (g *Grid) TotalBuckets() uint32 { return g.totalBuckets }

// MaxDim returns the largest active dimension of the base level.
func (g *Grid) MaxDim() int32 {
	if len(g.levels) == 0 {
		return 0
	}
	base := g.levels[0].Size
	m := base[0]
	for d := 1; d < g.dims; d++ {
		m = max(m, base[d])
	}
	return m
}

// FanOut returns the most entries one point can occupy in the array
// variant: one per level, and never less than MaxFanOut. Capping the mip
// count with MaxMips caps the fan-out.
func (g *Grid) FanOut() uint32 {
	return max(MaxFanOut, uint32(len(g.levels))) //nolint:gosec // level count is small
}

// MaxIndices returns the default entry pool capacity for pointsCount
// points: pointsCount*FanOut() + TotalBuckets. For pyramids of up to
// MaxFanOut levels this is pointsCount*4 + TotalBuckets.
func (g *Grid) MaxIndices(pointsCount uint32) uint32 {
	return pointsCount*g.FanOut() + g.totalBuckets
}

// BucketIndex returns the global index of bucket (x, y, z) in level.
func (g *Grid) BucketIndex(level int, x, y, z int32) uint32 {
	l := g.levels[level]
	return l.BucketIndexOffset + uint32(x+l.Size[0]*(y+l.Size[1]*z)) //nolint:gosec // coordinates are in range
}

// LevelOf returns the level that contains a global bucket index.
func (g *Grid) LevelOf(bucket uint32) int {
	i := sort.Search(len(g.levels), func(i int) bool {
		return g.levels[i].BucketIndexOffset > bucket
	})
	return i - 1
}

// Coords returns the level and in-level coordinates of a global bucket index.
func (g *Grid) Coords(bucket uint32) (level int, x, y, z int32) {
	level = g.LevelOf(bucket)
	l := g.levels[level]
	local := int32(bucket - l.BucketIndexOffset) //nolint:gosec // bounded by level size
	x = local % l.Size[0]
	local /= l.Size[0]
	y = local % l.Size[1]
	z = local / l.Size[1]
	return level, x, y, z
}

// SelectLevel returns the primary level of a point with the given footprint
// radius: the finest level whose buckets are at least as wide as the point's
// diameter. Radius is in normalized units, like positions. The list variant
// buckets points at their primary level only; the array variant at the
// primary level and every coarser one.
func (g *Grid) SelectLevel(radius float32) int {
	return int(selectLevel(radius, uint32(g.MaxDim()), uint32(len(g.levels)))) //nolint:gosec // small values
}

// selectLevel is shared with the host kernels and mirrors select_level in
// the WGSL sources.
func selectLevel(radius float32, maxDim, mipCount uint32) uint32 {
	diameter := 2 * radius * float32(maxDim)
	if !(diameter > 1) || mipCount == 0 {
		return 0
	}
	lvl := math.Ceil(math.Log2(float64(diameter)))
	if lvl >= float64(mipCount-1) {
		return mipCount - 1
	}
	return uint32(lvl)
}

// Locate returns the global bucket index of p at its primary level, or false
// if p lies outside the unit cube (or square) and is culled.
func (g *Grid) Locate(p Point) (uint32, bool) {
	if len(g.levels) == 0 {
		return 0, false
	}
	lvl := g.SelectLevel(p.Radius)
	return locate(g.levels[lvl], g.dims, p.Position)
}

// LocateAll returns the buckets p occupies in the array variant: one per
// level, from its primary level to the coarsest. It returns nil for culled
// points.
func (g *Grid) LocateAll(p Point) []uint32 {
	if len(g.levels) == 0 {
		return nil
	}
	var out []uint32
	for lvl := g.SelectLevel(p.Radius); lvl < len(g.levels); lvl++ {
		b, ok := locate(g.levels[lvl], g.dims, p.Position)
		if !ok {
			return nil
		}
		out = append(out, b)
	}
	return out
}

// locate rasterizes a normalized position into a level.
func locate(l MipLevel, dims int, pos [3]float32) (uint32, bool) {
	var c [3]int32
	for d := 0; d < dims; d++ {
		if !(pos[d] >= 0 && pos[d] < 1) {
			return 0, false
		}
		c[d] = min(int32(pos[d]*float32(l.Size[d])), l.Size[d]-1)
	}
	return l.BucketIndexOffset + uint32(c[0]+l.Size[0]*(c[1]+l.Size[1]*c[2])), true //nolint:gosec // in range
}
