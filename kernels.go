package pointbucket

import (
	_ "embed"
	"math/bits"

	"github.com/gogpu/pointbucket/rendergraph"
)

// workgroupSize matches @workgroup_size in every shader.
const workgroupSize = 256

// commonWGSL declares the Params block, the struct layouts and the point
// rasterization helpers. It is prepended to every kernel source.
//
//go:embed shaders/common.wgsl
var commonWGSL string

// Binding shorthands.
const (
	uniform = rendergraph.AccessUniform
	read    = rendergraph.AccessRead
	rw      = rendergraph.AccessReadWrite
)

// newKernel assembles a kernel from its embedded source.
func newKernel(name, src string, host rendergraph.HostKernel, bindings ...rendergraph.Access) *rendergraph.Kernel {
	return &rendergraph.Kernel{
		Name:          name,
		Source:        commonWGSL + "\n" + src,
		WorkgroupSize: workgroupSize,
		Bindings:      bindings,
		Host:          host,
	}
}

// hostParams is Params as read by host kernels from the uniform buffer.
type hostParams struct {
	pointsCount  uint32
	mipCount     uint32
	totalBuckets uint32
	maxIndices   uint32
	groupsCount  uint32
	dims         uint32
	maxDim       uint32
}

func readParams(b *rendergraph.HostBuffer) hostParams {
	return hostParams{
		pointsCount:  b.Load(0),
		mipCount:     b.Load(1),
		totalBuckets: b.Load(2),
		maxIndices:   b.Load(3),
		groupsCount:  b.Load(4),
		dims:         b.Load(5),
		maxDim:       b.Load(6),
	}
}

// pointKey returns the sort key of point p.
func pointKey(points *rendergraph.HostBuffer, p uint32) float32 {
	return points.LoadFloat(p*pointInputWords + 4)
}

// primaryLevel reads point p and returns its position and primary level.
func primaryLevel(prm hostParams, points *rendergraph.HostBuffer, p uint32) ([3]float32, uint32) {
	base := p * pointInputWords
	pos := [3]float32{
		points.LoadFloat(base),
		points.LoadFloat(base + 1),
		points.LoadFloat(base + 2),
	}
	return pos, selectLevel(points.LoadFloat(base+3), prm.maxDim, prm.mipCount)
}

// mipAt decodes level lvl of the mip table.
func mipAt(mips *rendergraph.HostBuffer, lvl uint32) MipLevel {
	m := lvl * mipInfoWords
	return MipLevel{
		Size: [3]int32{
			int32(mips.Load(m)),     //nolint:gosec // sizes fit int32
			int32(mips.Load(m + 1)), //nolint:gosec // sizes fit int32
			int32(mips.Load(m + 2)), //nolint:gosec // sizes fit int32
		},
		BucketIndexOffset: mips.Load(m + 4),
	}
}

// locatePoint mirrors locate_point in list_fill.wgsl: it returns the bucket
// enclosing point p at its primary level.
func locatePoint(prm hostParams, mips, points *rendergraph.HostBuffer, p uint32) (uint32, bool) {
	if prm.mipCount == 0 {
		return 0, false
	}
	pos, lvl := primaryLevel(prm, points, p)
	return locate(mipAt(mips, lvl), int(prm.dims), pos)
}

// castPoint mirrors the level loop of array_count.wgsl and array_fill.wgsl:
// it calls fn with the bucket enclosing point p at its primary level and at
// every coarser one. Culled points produce no calls.
func castPoint(prm hostParams, mips, points *rendergraph.HostBuffer, p uint32, fn func(b uint32)) {
	if prm.mipCount == 0 {
		return
	}
	pos, first := primaryLevel(prm, points, p)
	for lvl := first; lvl < prm.mipCount; lvl++ {
		b, ok := locate(mipAt(mips, lvl), int(prm.dims), pos)
		if !ok {
			return
		}
		fn(b)
	}
}

// groupOf returns the load-balancing group of a bucket holding count > 0
// points: the bucket's occupancy octave, clamped to the last group.
func groupOf(count, groupsCount uint32) uint32 {
	return min(uint32(bits.Len32(count))-1, groupsCount-1) //nolint:gosec // Len32 <= 32
}
