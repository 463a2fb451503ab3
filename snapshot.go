package pointbucket

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/gogpu/pointbucket/rendergraph"
)

// ErrCorrupt is returned when a read back frame violates a bucket
// structure invariant.
var ErrCorrupt = errors.New("pointbucket: bucket structure invalid")

// BufferReader reads buffer contents back to the host. rendergraph.Graph
// implementations satisfy it.
type BufferReader interface {
	ReadBuffer(id rendergraph.BufferID, offset, size uint64) ([]byte, error)
}

// ArraySnapshot is a host copy of an executed array-variant frame.
type ArraySnapshot struct {
	Params       Params
	Mips         []MipInfo
	Buckets      []Bucket
	Entries      []BucketEntry
	Groups       []BucketGroup
	GroupBuckets []uint32
}

// ListSnapshot is a host copy of an executed list-variant frame.
type ListSnapshot struct {
	Params  Params
	Mips    []MipInfo
	Buckets []ListBucket
	Nodes   []PointNode
	Blocks  []BlockPointNode
}

// ReadArray copies an array-variant frame back to the host. Sizes come from
// the params buffer, so the snapshot is self-describing.
func ReadArray(r BufferReader, res Result) (*ArraySnapshot, error) {
	if res.Variant != VariantArray {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrVariantMismatch, VariantArray, res.Variant)
	}
	prm, mips, err := readHeader(r, res)
	if err != nil {
		return nil, err
	}
	s := &ArraySnapshot{Params: prm, Mips: mips}

	total := uint64(prm.TotalBuckets)
	groups := uint64(prm.GroupsCount)
	reads := []struct {
		id   rendergraph.BufferID
		size uint64
		dst  func([]byte)
	}{
		{res.Buckets, total * BucketSize, func(b []byte) { s.Buckets = decodeBuckets(b) }},
		{res.Entries, uint64(prm.MaxIndices) * BucketEntrySize, func(b []byte) { s.Entries = decodeEntries(b) }},
		{res.Groups, groups * BucketGroupSize, func(b []byte) { s.Groups = decodeGroups(b) }},
		{res.GroupBuckets, total * 4, func(b []byte) { s.GroupBuckets = decodeWords(b) }},
	}
	for _, rd := range reads {
		b, err := r.ReadBuffer(rd.id, 0, rd.size)
		if err != nil {
			return nil, fmt.Errorf("pointbucket: read back: %w", err)
		}
		rd.dst(b)
	}
	return s, nil
}

// ReadList copies a list-variant frame back to the host.
func ReadList(r BufferReader, res Result) (*ListSnapshot, error) {
	if res.Variant != VariantList {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrVariantMismatch, VariantList, res.Variant)
	}
	prm, mips, err := readHeader(r, res)
	if err != nil {
		return nil, err
	}
	s := &ListSnapshot{Params: prm, Mips: mips}

	b, err := r.ReadBuffer(res.Buckets, 0, uint64(prm.TotalBuckets)*ListBucketSize)
	if err != nil {
		return nil, fmt.Errorf("pointbucket: read back buckets: %w", err)
	}
	s.Buckets = decodeListBuckets(b)

	if prm.PointsCount > 0 {
		n := uint64(prm.PointsCount)
		if b, err = r.ReadBuffer(res.Nodes, 0, n*PointNodeSize); err != nil {
			return nil, fmt.Errorf("pointbucket: read back nodes: %w", err)
		}
		s.Nodes = decodeNodes(b)
		if b, err = r.ReadBuffer(res.Blocks, 0, n*BlockPointNodeSize); err != nil {
			return nil, fmt.Errorf("pointbucket: read back blocks: %w", err)
		}
		s.Blocks = decodeBlocks(b)
	}
	return s, nil
}

func readHeader(r BufferReader, res Result) (Params, []MipInfo, error) {
	b, err := r.ReadBuffer(res.Params, 0, ParamsSize)
	if err != nil {
		return Params{}, nil, fmt.Errorf("pointbucket: read back params: %w", err)
	}
	prm := decodeParams(b)
	if b, err = r.ReadBuffer(res.MipInfos, 0, uint64(prm.MipCount)*MipInfoSize); err != nil {
		return Params{}, nil, fmt.Errorf("pointbucket: read back mips: %w", err)
	}
	return prm, decodeMipInfos(b), nil
}

func decodeParams(b []byte) Params {
	return Params{
		PointsCount:  le.Uint32(b[0:]),
		MipCount:     le.Uint32(b[4:]),
		TotalBuckets: le.Uint32(b[8:]),
		MaxIndices:   le.Uint32(b[12:]),
		GroupsCount:  le.Uint32(b[16:]),
		Dims:         le.Uint32(b[20:]),
		MaxDim:       le.Uint32(b[24:]),
	}
}

func decodeMipInfos(b []byte) []MipInfo {
	out := make([]MipInfo, len(b)/MipInfoSize)
	for i := range out {
		w := b[i*MipInfoSize:]
		for j := range 4 {
			out[i].Size[j] = int32(le.Uint32(w[j*4:])) //nolint:gosec // sizes fit int32
		}
		out[i].BucketIndexOffset = le.Uint32(w[16:])
	}
	return out
}

// BucketPoints returns the point indices stored for bucket b, in pool
// order. Entries past the pool capacity are not returned.
func (s *ArraySnapshot) BucketPoints(b uint32) []uint32 {
	bk := s.Buckets[b]
	first := min(bk.IndexOffset, s.Params.MaxIndices)
	last := min(bk.IndexOffset+bk.PointsCount, s.Params.MaxIndices)
	out := make([]uint32, 0, last-first)
	for _, e := range s.Entries[first:last] {
		out = append(out, e.PointIndex)
	}
	return out
}

// GroupOf returns the group an occupied bucket of count points belongs to.
func (s *ArraySnapshot) GroupOf(count uint32) uint32 {
	return groupOf(count, s.Params.GroupsCount)
}

// Validate checks the frame against the points it was built from:
// every point sits in exactly the buckets Grid.LocateAll names for it,
// bucket ranges tile the pool, entries name their own bucket, and groups
// partition the occupied buckets. With sorted set, bucket and group ranges
// must also be ordered.
func (s *ArraySnapshot) Validate(grid *Grid, points []Point, sorted bool) error {
	expected, err := expectedBuckets(grid, points, s.Params, grid.LocateAll)
	if err != nil {
		return err
	}

	var used uint32
	var ranges [][2]uint32
	for b, bk := range s.Buckets {
		bucket := uint32(b)                                  //nolint:gosec // bucket count fits uint32
		if bk.PointsCount != uint32(len(expected[bucket])) { //nolint:gosec // bounded by points
			return fmt.Errorf("%w: bucket %d holds %d points, want %d",
				ErrCorrupt, b, bk.PointsCount, len(expected[bucket]))
		}
		if bk.PointsCount == 0 {
			continue
		}
		used += bk.PointsCount
		ranges = append(ranges, [2]uint32{bk.IndexOffset, bk.PointsCount})

		if bk.IndexOffset+bk.PointsCount > s.Params.MaxIndices {
			return fmt.Errorf("%w: bucket %d range [%d,%d) exceeds pool of %d",
				ErrCorrupt, b, bk.IndexOffset, bk.IndexOffset+bk.PointsCount, s.Params.MaxIndices)
		}
		for slot := bk.IndexOffset; slot < bk.IndexOffset+bk.PointsCount; slot++ {
			if e := s.Entries[slot]; e.BucketIndex != bucket {
				return fmt.Errorf("%w: slot %d of bucket %d names bucket %d", ErrCorrupt, slot, b, e.BucketIndex)
			}
		}
		got := s.BucketPoints(bucket)
		if sorted {
			if err := checkKeyOrder(bucket, got, points); err != nil {
				return err
			}
		}
		if !sameMembers(got, expected[bucket]) {
			return fmt.Errorf("%w: bucket %d members differ from the points it covers", ErrCorrupt, b)
		}
	}

	slices.SortFunc(ranges, func(a, b [2]uint32) int { return cmp.Compare(a[0], b[0]) })
	var next uint32
	for _, r := range ranges {
		if r[0] != next {
			return fmt.Errorf("%w: pool range at %d, want %d", ErrCorrupt, r[0], next)
		}
		next += r[1]
	}
	if next != used {
		return fmt.Errorf("%w: pool holds %d entries, buckets claim %d", ErrCorrupt, next, used)
	}

	return s.validateGroups(sorted)
}

func (s *ArraySnapshot) validateGroups(sorted bool) error {
	var occupied uint32
	for _, bk := range s.Buckets {
		if bk.PointsCount > 0 {
			occupied++
		}
	}

	var prefix uint32
	seen := make(map[uint32]bool, occupied)
	var ranges [][2]uint32
	for g, grp := range s.Groups {
		if grp.BucketIndexGlobalOffset != prefix {
			return fmt.Errorf("%w: group %d global offset %d, want %d",
				ErrCorrupt, g, grp.BucketIndexGlobalOffset, prefix)
		}
		prefix += grp.BucketsCount
		if grp.BucketsCount == 0 {
			continue
		}
		ranges = append(ranges, [2]uint32{grp.BucketIndexOffset, grp.BucketsCount})

		first, last := grp.BucketIndexOffset, grp.BucketIndexOffset+grp.BucketsCount
		if last > uint32(len(s.GroupBuckets)) { //nolint:gosec // bucket count fits uint32
			return fmt.Errorf("%w: group %d range exceeds bucket list", ErrCorrupt, g)
		}
		for i := first; i < last; i++ {
			b := s.GroupBuckets[i]
			if int(b) >= len(s.Buckets) || s.Buckets[b].PointsCount == 0 {
				return fmt.Errorf("%w: group %d lists empty or unknown bucket %d", ErrCorrupt, g, b)
			}
			if want := s.GroupOf(s.Buckets[b].PointsCount); want != uint32(g) { //nolint:gosec // small
				return fmt.Errorf("%w: bucket %d in group %d, want %d", ErrCorrupt, b, g, want)
			}
			if seen[b] {
				return fmt.Errorf("%w: bucket %d listed twice", ErrCorrupt, b)
			}
			seen[b] = true
			if sorted && i > first && s.GroupBuckets[i-1] >= b {
				return fmt.Errorf("%w: group %d not ordered at %d", ErrCorrupt, g, i)
			}
		}
	}
	if prefix != occupied {
		return fmt.Errorf("%w: groups hold %d buckets, %d occupied", ErrCorrupt, prefix, occupied)
	}

	slices.SortFunc(ranges, func(a, b [2]uint32) int { return cmp.Compare(a[0], b[0]) })
	var next uint32
	for _, r := range ranges {
		if r[0] != next {
			return fmt.Errorf("%w: group range at %d, want %d", ErrCorrupt, r[0], next)
		}
		next += r[1]
	}
	return nil
}

// Digest hashes bucket membership at every level, independent of pool
// layout and of insertion order.
func (s *ArraySnapshot) Digest() uint64 {
	return membershipDigest(len(s.Buckets), func(b uint32) ([]uint32, error) {
		return s.BucketPoints(b), nil
	})
}

// PrimaryDigest hashes membership like Digest but keeps each point only in
// the bucket of its primary level, which is what a ListBucketeer builds.
// For the same points it equals ListSnapshot.Digest.
func (s *ArraySnapshot) PrimaryDigest(points []Point) uint64 {
	return membershipDigest(len(s.Buckets), func(b uint32) ([]uint32, error) {
		lvl := s.levelOf(b)
		var out []uint32
		for _, p := range s.BucketPoints(b) {
			if int(p) >= len(points) {
				return nil, fmt.Errorf("%w: bucket %d names point %d", ErrCorrupt, b, p)
			}
			if selectLevel(points[p].Radius, s.Params.MaxDim, s.Params.MipCount) == lvl {
				out = append(out, p)
			}
		}
		return out, nil
	})
}

// levelOf returns the mip level holding bucket b.
func (s *ArraySnapshot) levelOf(b uint32) uint32 {
	i := sort.Search(len(s.Mips), func(i int) bool {
		return s.Mips[i].BucketIndexOffset > b
	})
	return uint32(i - 1) //nolint:gosec // bucket 0 starts level 0
}

// BucketPoints walks bucket b's list. A list longer than the point count
// is reported as a cycle.
func (s *ListSnapshot) BucketPoints(b uint32) ([]uint32, error) {
	var out []uint32
	for cur := s.Buckets[b].HeadPointIndex; cur != InvalidIndex; cur = s.Nodes[cur].NextPointIndex {
		if int(cur) >= len(s.Nodes) {
			return nil, fmt.Errorf("%w: bucket %d links to point %d", ErrCorrupt, b, cur)
		}
		if len(out) >= len(s.Nodes) {
			return nil, fmt.Errorf("%w: bucket %d list does not terminate", ErrCorrupt, b)
		}
		out = append(out, cur)
	}
	return out, nil
}

// BlockPoints walks bucket b through the block index: each block head
// contributes itself and the three points recorded after it.
func (s *ListSnapshot) BlockPoints(b uint32) ([]uint32, error) {
	var out []uint32
	for block := s.Buckets[b].BlockHeadPointIndex; block != InvalidIndex; {
		if int(block) >= len(s.Blocks) || len(out) >= len(s.Blocks) {
			return nil, fmt.Errorf("%w: bucket %d block walk broken at %d", ErrCorrupt, b, block)
		}
		out = append(out, block)
		next := s.Blocks[block].NextPointIndex
		for _, p := range next[:3] {
			if p == InvalidIndex {
				return out, nil
			}
			out = append(out, p)
		}
		block = next[3]
	}
	return out, nil
}

// Validate checks every list: it terminates, has the recorded length,
// holds exactly the points that select the bucket, matches its block walk,
// and with sorted set is ordered by sort key.
func (s *ListSnapshot) Validate(grid *Grid, points []Point, sorted bool) error {
	expected, err := expectedBuckets(grid, points, s.Params, func(p Point) []uint32 {
		if b, ok := grid.Locate(p); ok {
			return []uint32{b}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for b, bk := range s.Buckets {
		bucket := uint32(b) //nolint:gosec // bucket count fits uint32
		got, err := s.BucketPoints(bucket)
		if err != nil {
			return err
		}
		if uint32(len(got)) != bk.PointsCount { //nolint:gosec // bounded by points
			return fmt.Errorf("%w: bucket %d list has %d nodes, count says %d",
				ErrCorrupt, b, len(got), bk.PointsCount)
		}
		if !sameMembers(got, expected[bucket]) {
			return fmt.Errorf("%w: bucket %d members differ from the points it covers", ErrCorrupt, b)
		}
		if bk.BlockHeadPointIndex != bk.HeadPointIndex {
			return fmt.Errorf("%w: bucket %d block head %d, list head %d",
				ErrCorrupt, b, bk.BlockHeadPointIndex, bk.HeadPointIndex)
		}
		blocks, err := s.BlockPoints(bucket)
		if err != nil {
			return err
		}
		if !slices.Equal(blocks, got) {
			return fmt.Errorf("%w: bucket %d block walk differs from list walk", ErrCorrupt, b)
		}
		if sorted {
			if err := checkKeyOrder(bucket, got, points); err != nil {
				return err
			}
		}
	}
	return nil
}

// Digest hashes bucket membership the same way as ArraySnapshot.Digest.
// Lists hold primary levels only, so it matches ArraySnapshot.PrimaryDigest.
// A broken list digests as zero.
func (s *ListSnapshot) Digest() uint64 {
	return membershipDigest(len(s.Buckets), s.BucketPoints)
}

// expectedBuckets rasterizes points on the host with cast, which returns
// the buckets a point occupies.
func expectedBuckets(grid *Grid, points []Point, prm Params, cast func(Point) []uint32) (map[uint32][]uint32, error) {
	if uint32(len(points)) != prm.PointsCount { //nolint:gosec // bounded by points
		return nil, fmt.Errorf("%w: frame has %d points, got %d", ErrCorrupt, prm.PointsCount, len(points))
	}
	if grid.TotalBuckets() != prm.TotalBuckets {
		return nil, fmt.Errorf("%w: frame has %d buckets, grid %d", ErrCorrupt, prm.TotalBuckets, grid.TotalBuckets())
	}
	out := make(map[uint32][]uint32)
	for i, p := range points {
		for _, b := range cast(p) {
			out[b] = append(out[b], uint32(i)) //nolint:gosec // bounded by points
		}
	}
	return out, nil
}

func checkKeyOrder(bucket uint32, got []uint32, points []Point) error {
	for i := 1; i < len(got); i++ {
		if points[got[i-1]].SortKey > points[got[i]].SortKey {
			return fmt.Errorf("%w: bucket %d not ordered by sort key at position %d", ErrCorrupt, bucket, i)
		}
	}
	return nil
}

func sameMembers(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

func membershipDigest(buckets int, members func(uint32) ([]uint32, error)) uint64 {
	d := xxhash.New()
	var word [4]byte
	put := func(v uint32) {
		le.PutUint32(word[:], v)
		_, _ = d.Write(word[:])
	}
	for b := range buckets {
		bucket := uint32(b) //nolint:gosec // bucket count fits uint32
		pts, err := members(bucket)
		if err != nil {
			return 0
		}
		if len(pts) == 0 {
			continue
		}
		pts = slices.Clone(pts)
		slices.Sort(pts)
		put(bucket)
		put(uint32(len(pts))) //nolint:gosec // bounded by points
		for _, p := range pts {
			put(p)
		}
	}
	return d.Sum64()
}
