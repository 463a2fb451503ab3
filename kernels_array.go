package pointbucket

import (
	_ "embed"
	"slices"

	"github.com/gogpu/pointbucket/rendergraph"
)

//go:embed shaders/array_clear.wgsl
var shaderArrayClear string

//go:embed shaders/array_count.wgsl
var shaderArrayCount string

//go:embed shaders/array_alloc.wgsl
var shaderArrayAlloc string

//go:embed shaders/array_fill.wgsl
var shaderArrayFill string

//go:embed shaders/array_sort.wgsl
var shaderArraySort string

//go:embed shaders/group_clear.wgsl
var shaderGroupClear string

//go:embed shaders/group_count.wgsl
var shaderGroupCount string

//go:embed shaders/group_alloc.wgsl
var shaderGroupAlloc string

//go:embed shaders/group_fill.wgsl
var shaderGroupFill string

//go:embed shaders/group_sort.wgsl
var shaderGroupSort string

// Counter words of the array variant's counters buffer.
const (
	counterEntries = 0
	counterGroups  = 1
	countersWords  = 2
)

// Array variant kernels. Binding lists match the WGSL declarations.
var (
	// params, buckets, cursors, counters
	kernelArrayClear = newKernel("array_clear", shaderArrayClear, hostArrayClear,
		uniform, rw, rw, rw)

	// params, mips, points, buckets
	kernelArrayCount = newKernel("array_count", shaderArrayCount, hostArrayCount,
		uniform, read, read, rw)

	// params, buckets, cursors, counters
	kernelArrayAlloc = newKernel("array_alloc", shaderArrayAlloc, hostArrayAlloc,
		uniform, rw, rw, rw)

	// params, mips, points, cursors, entries
	kernelArrayFill = newKernel("array_fill", shaderArrayFill, hostArrayFill,
		uniform, read, read, rw, rw)

	// params, points, buckets, entries
	kernelArraySort = newKernel("array_sort", shaderArraySort, hostArraySort,
		uniform, read, read, rw)

	// params, groups, group cursors, counters
	kernelGroupClear = newKernel("group_clear", shaderGroupClear, hostGroupClear,
		uniform, rw, rw, rw)

	// params, buckets, groups
	kernelGroupCount = newKernel("group_count", shaderGroupCount, hostGroupCount,
		uniform, read, rw)

	// params, groups, group cursors, counters
	kernelGroupAlloc = newKernel("group_alloc", shaderGroupAlloc, hostGroupAlloc,
		uniform, rw, rw, rw)

	// params, buckets, group cursors, group buckets
	kernelGroupFill = newKernel("group_fill", shaderGroupFill, hostGroupFill,
		uniform, read, rw, rw)

	// params, groups, group buckets
	kernelGroupSort = newKernel("group_sort", shaderGroupSort, hostGroupSort,
		uniform, read, rw)
)

func hostArrayClear(b uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if b >= prm.totalBuckets {
		return
	}
	buckets, cursors, counters := bufs[1], bufs[2], bufs[3]
	buckets.Store(bucketWords*b, 0)
	buckets.Store(bucketWords*b+1, 0)
	cursors.Store(b, 0)
	if b == 0 {
		counters.Store(counterEntries, 0)
	}
}

func hostArrayCount(p uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if p >= prm.pointsCount {
		return
	}
	buckets := bufs[3]
	castPoint(prm, bufs[1], bufs[2], p, func(b uint32) {
		buckets.Add(bucketWords*b+1, 1)
	})
}

func hostArrayAlloc(b uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if b >= prm.totalBuckets {
		return
	}
	buckets, cursors, counters := bufs[1], bufs[2], bufs[3]
	count := buckets.Load(bucketWords*b + 1)
	var offset uint32
	if count > 0 {
		offset = counters.Add(counterEntries, count)
	}
	buckets.Store(bucketWords*b, offset)
	cursors.Store(b, offset)
}

func hostArrayFill(p uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if p >= prm.pointsCount {
		return
	}
	cursors, entries := bufs[3], bufs[4]
	castPoint(prm, bufs[1], bufs[2], p, func(b uint32) {
		slot := cursors.Add(b, 1)
		if slot >= prm.maxIndices {
			return
		}
		entries.Store(entryWords*slot, p)
		entries.Store(entryWords*slot+1, b)
	})
}

func hostArraySort(b uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if b >= prm.totalBuckets {
		return
	}
	points, buckets, entries := bufs[1], bufs[2], bufs[3]
	first := buckets.Load(bucketWords * b)
	count := buckets.Load(bucketWords*b + 1)
	if count < 2 || first >= prm.maxIndices {
		return
	}
	last := min(first+count, prm.maxIndices)

	segment := make([]uint32, 0, last-first)
	for slot := first; slot < last; slot++ {
		segment = append(segment, entries.Load(entryWords*slot))
	}
	slices.SortStableFunc(segment, func(a, c uint32) int {
		ka, kc := pointKey(points, a), pointKey(points, c)
		switch {
		case ka < kc:
			return -1
		case ka > kc:
			return 1
		default:
			return 0
		}
	})
	for i, p := range segment {
		entries.Store(entryWords*(first+uint32(i)), p) //nolint:gosec // bounded by count
	}
}

func hostGroupClear(g uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if g >= prm.groupsCount {
		return
	}
	groups, cursors, counters := bufs[1], bufs[2], bufs[3]
	for w := uint32(0); w < groupWords; w++ {
		groups.Store(groupWords*g+w, 0)
	}
	cursors.Store(g, 0)
	if g == 0 {
		counters.Store(counterGroups, 0)
	}
}

func hostGroupCount(b uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if b >= prm.totalBuckets {
		return
	}
	count := bufs[1].Load(bucketWords*b + 1)
	if count == 0 {
		return
	}
	bufs[2].Add(groupWords*groupOf(count, prm.groupsCount), 1)
}

func hostGroupAlloc(g uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if g >= prm.groupsCount {
		return
	}
	groups, cursors, counters := bufs[1], bufs[2], bufs[3]
	count := groups.Load(groupWords * g)
	var offset uint32
	if count > 0 {
		offset = counters.Add(counterGroups, count)
	}
	var global uint32
	for h := uint32(0); h < g; h++ {
		global += groups.Load(groupWords * h)
	}
	groups.Store(groupWords*g+1, offset)
	groups.Store(groupWords*g+2, global)
	cursors.Store(g, offset)
}

func hostGroupFill(b uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if b >= prm.totalBuckets {
		return
	}
	count := bufs[1].Load(bucketWords*b + 1)
	if count == 0 {
		return
	}
	slot := bufs[2].Add(groupOf(count, prm.groupsCount), 1)
	bufs[3].Store(slot, b)
}

func hostGroupSort(g uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if g >= prm.groupsCount {
		return
	}
	groups, list := bufs[1], bufs[2]
	first := groups.Load(groupWords*g + 1)
	last := first + groups.Load(groupWords*g)
	if last-first < 2 {
		return
	}
	segment := make([]uint32, 0, last-first)
	for i := first; i < last; i++ {
		segment = append(segment, list.Load(i))
	}
	slices.Sort(segment)
	for i, b := range segment {
		list.Store(first+uint32(i), b) //nolint:gosec // bounded by group size
	}
}
