package pointbucket

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Point is one input point of a bucketing pass.
type Point struct {
	// Position is normalized to [0,1) per axis. Points outside the unit
	// cube are culled. Position[2] is ignored by 2D grids.
	Position [3]float32

	// Radius is the point's footprint in normalized units. It selects the
	// mip level: zero buckets the point at level 0.
	Radius float32

	// SortKey orders points within a bucket when sorting is enabled,
	// typically view depth.
	SortKey float32
}

// EncodePoints packs points into the 32-byte PointInput layout expected by
// the points buffer passed to Record.
func EncodePoints(points []Point) []byte {
	buf := make([]byte, len(points)*PointInputSize)
	for i, p := range points {
		b := buf[i*PointInputSize:]
		le.PutUint32(b[0:], math.Float32bits(p.Position[0]))
		le.PutUint32(b[4:], math.Float32bits(p.Position[1]))
		le.PutUint32(b[8:], math.Float32bits(p.Position[2]))
		le.PutUint32(b[12:], math.Float32bits(p.Radius))
		le.PutUint32(b[16:], math.Float32bits(p.SortKey))
	}
	return buf
}

// DecodePoints is the inverse of EncodePoints.
func DecodePoints(b []byte) []Point {
	out := make([]Point, len(b)/PointInputSize)
	for i := range out {
		w := b[i*PointInputSize:]
		f := func(off int) float32 { return math.Float32frombits(le.Uint32(w[off:])) }
		out[i] = Point{
			Position: [3]float32{f(0), f(4), f(8)},
			Radius:   f(12),
			SortKey:  f(16),
		}
	}
	return out
}

// Scatter returns n points uniformly scattered over the unit square (dims 2)
// or cube (dims 3), with uniform sort keys in [0,1) and zero radius.
//
// Coordinates are derived from a hash of (seed, index, axis), so any range
// of points can be generated independently and the result does not depend
// on generation order.
func Scatter(n int, dims int, seed uint64) []Point {
	points := make([]Point, n)
	for i := range points {
		p := &points[i]
		for d := 0; d < dims; d++ {
			p.Position[d] = unitFloat(seed, uint64(i), uint64(d)) //nolint:gosec // index is non-negative
		}
		p.SortKey = unitFloat(seed, uint64(i), 3) //nolint:gosec // index is non-negative
	}
	return points
}

// unitFloat hashes (seed, index, lane) to a float32 in [0,1).
func unitFloat(seed, index, lane uint64) float32 {
	var key [24]byte
	binary.LittleEndian.PutUint64(key[0:], seed)
	binary.LittleEndian.PutUint64(key[8:], index)
	binary.LittleEndian.PutUint64(key[16:], lane)
	h := xxhash.Sum64(key[:])
	// 24 high bits fit the float32 mantissa exactly, so the result is < 1.
	return float32(h>>40) / (1 << 24)
}
