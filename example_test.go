package pointbucket_test

import (
	"context"
	"fmt"

	"github.com/gogpu/pointbucket"
	"github.com/gogpu/pointbucket/rendergraph"
)

// ExampleNewArrayBucketeer buckets scattered points on the host graph and
// reads the frame back.
func ExampleNewArrayBucketeer() {
	g := rendergraph.NewHostGraph()
	defer g.Close()

	points := pointbucket.Scatter(1000, 2, 1)
	pts, _ := g.CreateBuffer(rendergraph.BufferDesc{Size: uint64(len(points)) * pointbucket.PointInputSize})
	_ = g.WriteBuffer(pts, 0, pointbucket.EncodePoints(points))

	b, err := pointbucket.NewArrayBucketeer(g, pointbucket.Config{
		Width: 64, Height: 64, PointsCount: len(points), Sort: true,
	})
	if err != nil {
		fmt.Println("create:", err)
		return
	}
	res, _ := b.Record(pts)
	if err := g.Execute(context.Background()); err != nil {
		fmt.Println("execute:", err)
		return
	}

	snap, err := pointbucket.ReadArray(g, res)
	if err != nil {
		fmt.Println("read back:", err)
		return
	}
	if err := snap.Validate(b.Grid(), points, true); err != nil {
		fmt.Println("invalid:", err)
		return
	}

	// Every level holds every point.
	for i, l := range b.Grid().Levels() {
		var n uint32
		for _, bk := range snap.Buckets[l.BucketIndexOffset : l.BucketIndexOffset+l.BucketsCount()] {
			n += bk.PointsCount
		}
		fmt.Printf("level %d: %dx%d buckets, %d points\n", i, l.Size[0], l.Size[1], n)
	}
	// Output:
	// level 0: 64x64 buckets, 1000 points
	// level 1: 32x32 buckets, 1000 points
	// level 2: 16x16 buckets, 1000 points
	// level 3: 8x8 buckets, 1000 points
	// level 4: 4x4 buckets, 1000 points
	// level 5: 2x2 buckets, 1000 points
	// level 6: 1x1 buckets, 1000 points
}
