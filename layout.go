package pointbucket

import (
	"encoding/binary"
	"math"
)

// Buffer layouts shared with the WGSL sources. All structs are tightly
// packed little-endian u32/f32 words; field order and padding match the
// shader declarations bit for bit.

// InvalidIndex terminates linked lists and marks empty list heads.
const InvalidIndex uint32 = 0xFFFFFFFF

// Struct sizes in bytes.
const (
	MipInfoSize        = 32
	BucketSize         = 8
	BucketEntrySize    = 8
	BucketGroupSize    = 16
	ListBucketSize     = 16
	PointNodeSize      = 8
	BlockPointNodeSize = 16
	PointInputSize     = 32
	ParamsSize         = 32
)

// Struct sizes in words, used for indexing host buffers.
const (
	mipInfoWords    = MipInfoSize / 4
	bucketWords     = BucketSize / 4
	entryWords      = BucketEntrySize / 4
	groupWords      = BucketGroupSize / 4
	listBucketWords = ListBucketSize / 4
	nodeWords       = PointNodeSize / 4
	blockWords      = BlockPointNodeSize / 4
	pointInputWords = PointInputSize / 4
)

// MipInfo is the device form of a MipLevel.
type MipInfo struct {
	Size              [4]int32
	BucketIndexOffset uint32
	_                 [3]float32
}

// Bucket is an array-variant bucket: a view into the entry pool.
type Bucket struct {
	IndexOffset uint32
	PointsCount uint32
}

// BucketEntry is one slot of the entry pool.
type BucketEntry struct {
	PointIndex  uint32
	BucketIndex uint32
}

// BucketGroup is a load-balancing partition of occupied buckets.
type BucketGroup struct {
	BucketsCount            uint32
	BucketIndexOffset       uint32
	BucketIndexGlobalOffset uint32
	_                       float32
}

// ListBucket is a list-variant bucket.
type ListBucket struct {
	HeadPointIndex      uint32
	PointsCount         uint32
	BlockHeadPointIndex uint32
	_                   float32
}

// PointNode is the list cell of one point.
type PointNode struct {
	NextPointIndex uint32
	SortKey        float32
}

// BlockPointNode indexes four list positions from a block head: the three
// points that follow it and the head of the next block.
type BlockPointNode struct {
	NextPointIndex [4]uint32
}

// Params is the uniform block bound at binding 0 of every kernel.
type Params struct {
	PointsCount  uint32
	MipCount     uint32
	TotalBuckets uint32
	MaxIndices   uint32
	GroupsCount  uint32
	Dims         uint32
	MaxDim       uint32
	_            uint32
}

var le = binary.LittleEndian

// mipInfoBytes encodes the grid's mip table.
func (g *Grid) mipInfoBytes() []byte {
	buf := make([]byte, len(g.levels)*MipInfoSize)
	for i, l := range g.levels {
		b := buf[i*MipInfoSize:]
		le.PutUint32(b[0:], uint32(l.Size[0])) //nolint:gosec // positive
		le.PutUint32(b[4:], uint32(l.Size[1])) //nolint:gosec // positive
		le.PutUint32(b[8:], uint32(l.Size[2])) //nolint:gosec // positive
		le.PutUint32(b[12:], uint32(g.dims))   //nolint:gosec // 2 or 3
		le.PutUint32(b[16:], l.BucketIndexOffset)
	}
	return buf
}

// MipInfos returns the device form of the grid's levels.
func (g *Grid) MipInfos() []MipInfo {
	out := make([]MipInfo, len(g.levels))
	for i, l := range g.levels {
		out[i] = MipInfo{
			Size:              [4]int32{l.Size[0], l.Size[1], l.Size[2], int32(g.dims)}, //nolint:gosec // 2 or 3
			BucketIndexOffset: l.BucketIndexOffset,
		}
	}
	return out
}

func (p Params) bytes() []byte {
	buf := make([]byte, ParamsSize)
	le.PutUint32(buf[0:], p.PointsCount)
	le.PutUint32(buf[4:], p.MipCount)
	le.PutUint32(buf[8:], p.TotalBuckets)
	le.PutUint32(buf[12:], p.MaxIndices)
	le.PutUint32(buf[16:], p.GroupsCount)
	le.PutUint32(buf[20:], p.Dims)
	le.PutUint32(buf[24:], p.MaxDim)
	return buf
}

func decodeBuckets(b []byte) []Bucket {
	out := make([]Bucket, len(b)/BucketSize)
	for i := range out {
		w := b[i*BucketSize:]
		out[i] = Bucket{IndexOffset: le.Uint32(w), PointsCount: le.Uint32(w[4:])}
	}
	return out
}

func decodeEntries(b []byte) []BucketEntry {
	out := make([]BucketEntry, len(b)/BucketEntrySize)
	for i := range out {
		w := b[i*BucketEntrySize:]
		out[i] = BucketEntry{PointIndex: le.Uint32(w), BucketIndex: le.Uint32(w[4:])}
	}
	return out
}

func decodeGroups(b []byte) []BucketGroup {
	out := make([]BucketGroup, len(b)/BucketGroupSize)
	for i := range out {
		w := b[i*BucketGroupSize:]
		out[i] = BucketGroup{
			BucketsCount:            le.Uint32(w),
			BucketIndexOffset:       le.Uint32(w[4:]),
			BucketIndexGlobalOffset: le.Uint32(w[8:]),
		}
	}
	return out
}

func decodeWords(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = le.Uint32(b[i*4:])
	}
	return out
}

func decodeListBuckets(b []byte) []ListBucket {
	out := make([]ListBucket, len(b)/ListBucketSize)
	for i := range out {
		w := b[i*ListBucketSize:]
		out[i] = ListBucket{
			HeadPointIndex:      le.Uint32(w),
			PointsCount:         le.Uint32(w[4:]),
			BlockHeadPointIndex: le.Uint32(w[8:]),
		}
	}
	return out
}

func decodeNodes(b []byte) []PointNode {
	out := make([]PointNode, len(b)/PointNodeSize)
	for i := range out {
		w := b[i*PointNodeSize:]
		out[i] = PointNode{
			NextPointIndex: le.Uint32(w),
			SortKey:        math.Float32frombits(le.Uint32(w[4:])),
		}
	}
	return out
}

func decodeBlocks(b []byte) []BlockPointNode {
	out := make([]BlockPointNode, len(b)/BlockPointNodeSize)
	for i := range out {
		w := b[i*BlockPointNodeSize:]
		for j := range 4 {
			out[i].NextPointIndex[j] = le.Uint32(w[j*4:])
		}
	}
	return out
}
