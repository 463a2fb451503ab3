// Package pointbucket sorts points into the buckets of a screen- or
// volume-aligned mip pyramid on the GPU, so that later gather passes can
// find the points near a region by reading a handful of buckets, at the
// finest level or at any coarser footprint.
//
// # Overview
//
// A [Grid] describes the pyramid: level 0 has the base resolution and every
// further level halves each active axis. Bucket indices are global across
// levels. A point's radius selects its primary level, the finest one whose
// buckets are as wide as the point.
//
// Two strategies share the grid and the Clear/Fill contract:
//
//   - [ArrayBucketeer] casts every point into its enclosing bucket at the
//     primary level and at every coarser one. It counts points per bucket,
//     reserves contiguous pool ranges, then writes entries. Occupied buckets
//     are further partitioned into groups by occupancy for load-balanced
//     gathers. The pool holds [Grid.MaxIndices] entries unless
//     Config.MaxIndices overrides it; a smaller pool loses entries.
//   - [ListBucketeer] pushes every point onto the list of its bucket at the
//     primary level with one atomic exchange and builds a 4-wide block index
//     over the lists.
//
// # Quick Start
//
//	g := rendergraph.NewHostGraph()
//	defer g.Close()
//
//	points := pointbucket.Scatter(10000, 2, 1)
//	pts, _ := g.CreateBuffer(rendergraph.BufferDesc{Size: uint64(len(points)) * pointbucket.PointInputSize})
//	_ = g.WriteBuffer(pts, 0, pointbucket.EncodePoints(points))
//
//	b, _ := pointbucket.NewArrayBucketeer(g, pointbucket.Config{
//	    Width: 512, Height: 512, PointsCount: len(points), Sort: true,
//	})
//	res, _ := b.Record(pts)
//	_ = g.Execute(context.Background())
//
//	snap, _ := pointbucket.ReadArray(g, res)
//	err := snap.Validate(b.Grid(), points, true)
//
// # Devices
//
// Passes are recorded into a [rendergraph.Graph]. The host graph runs the
// kernels on a worker pool with the same atomics and barriers a device
// would use; the halgraph package runs the embedded WGSL on a wgpu HAL
// device.
package pointbucket
