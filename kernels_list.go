package pointbucket

import (
	_ "embed"
	"slices"

	"github.com/gogpu/pointbucket/rendergraph"
)

//go:embed shaders/list_clear.wgsl
var shaderListClear string

//go:embed shaders/list_fill.wgsl
var shaderListFill string

//go:embed shaders/list_sort.wgsl
var shaderListSort string

//go:embed shaders/list_block_sort.wgsl
var shaderListBlockSort string

// List variant kernels.
var (
	// params, buckets
	kernelListClear = newKernel("list_clear", shaderListClear, hostListClear,
		uniform, rw)

	// params, mips, points, buckets, nodes
	kernelListFill = newKernel("list_fill", shaderListFill, hostListFill,
		uniform, read, read, rw, rw)

	// params, buckets, nodes
	kernelListSort = newKernel("list_sort", shaderListSort, hostListSort,
		uniform, rw, rw)

	// params, buckets, nodes, blocks
	kernelListBlockSort = newKernel("list_block_sort", shaderListBlockSort, hostListBlockSort,
		uniform, rw, read, rw)
)

func hostListClear(b uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if b >= prm.totalBuckets {
		return
	}
	buckets := bufs[1]
	base := listBucketWords * b
	buckets.Store(base, InvalidIndex)
	buckets.Store(base+1, 0)
	buckets.Store(base+2, InvalidIndex)
	buckets.Store(base+3, 0)
}

func hostListFill(p uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if p >= prm.pointsCount {
		return
	}
	points, buckets, nodes := bufs[2], bufs[3], bufs[4]
	nodes.Store(nodeWords*p+1, points.Load(p*pointInputWords+4))

	b, ok := locatePoint(prm, bufs[1], points, p)
	if !ok {
		nodes.Store(nodeWords*p, InvalidIndex)
		return
	}
	prev := buckets.Exchange(listBucketWords*b, p)
	nodes.Store(nodeWords*p, prev)
	buckets.Add(listBucketWords*b+1, 1)
}

func hostListSort(b uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if b >= prm.totalBuckets {
		return
	}
	buckets, nodes := bufs[1], bufs[2]

	var chain []uint32
	for cur := buckets.Load(listBucketWords * b); cur != InvalidIndex; cur = nodes.Load(nodeWords * cur) {
		if uint32(len(chain)) >= prm.pointsCount { //nolint:gosec // bounded by points count
			break
		}
		chain = append(chain, cur)
	}
	if len(chain) < 2 {
		return
	}
	slices.SortStableFunc(chain, func(a, c uint32) int {
		ka, kc := nodes.LoadFloat(nodeWords*a+1), nodes.LoadFloat(nodeWords*c+1)
		switch {
		case ka < kc:
			return -1
		case ka > kc:
			return 1
		default:
			return 0
		}
	})

	for i, p := range chain[:len(chain)-1] {
		nodes.Store(nodeWords*p, chain[i+1])
	}
	nodes.Store(nodeWords*chain[len(chain)-1], InvalidIndex)
	buckets.Store(listBucketWords*b, chain[0])
}

func hostListBlockSort(b uint32, bufs []*rendergraph.HostBuffer) {
	prm := readParams(bufs[0])
	if b >= prm.totalBuckets {
		return
	}
	buckets, nodes, blocks := bufs[1], bufs[2], bufs[3]
	head := buckets.Load(listBucketWords * b)
	buckets.Store(listBucketWords*b+2, head)

	for block, steps := head, uint32(0); block != InvalidIndex && steps < prm.pointsCount; steps += 4 {
		cur := nodes.Load(nodeWords * block)
		for k := uint32(0); k < 4; k++ {
			blocks.Store(blockWords*block+k, cur)
			if cur != InvalidIndex && k < 3 {
				cur = nodes.Load(nodeWords * cur)
			}
		}
		block = blocks.Load(blockWords*block + 3)
	}
}
