// Command bucketstat buckets a random point scene with both strategies,
// checks that they agree, and prints occupancy statistics.
//
// Usage:
//
//	bucketstat -width 512 -height 512 -points 100000 -heatmap occupancy.png
//
// The -gpu flag runs the passes on a Vulkan device instead of the host
// executor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"os"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/pointbucket"
	"github.com/gogpu/pointbucket/rendergraph"
	"github.com/gogpu/pointbucket/rendergraph/halgraph"
)

type runner struct {
	graph  rendergraph.Graph
	closer func()
}

// frameStats is what one variant reports about a frame. digest covers
// primary-level membership, which both variants share; entries is the
// array variant's all-level digest.
type frameStats struct {
	variant  pointbucket.Variant
	elapsed  time.Duration
	digest   uint64
	entries  uint64
	occupied int
	maxCount uint32
	level0   []uint32
	groups   []pointbucket.BucketGroup
}

func main() {
	var (
		width   = flag.Int("width", 512, "base bucket resolution X")
		height  = flag.Int("height", 512, "base bucket resolution Y")
		depth   = flag.Int("depth", 0, "base bucket resolution Z (0 for 2D)")
		mips    = flag.Int("mips", 0, "mip level cap (0 for no cap)")
		count   = flag.Int("points", 100000, "number of points")
		radius  = flag.Float64("radius", 0, "point radius in normalized units")
		seed    = flag.Uint64("seed", 1, "scatter seed")
		sorted  = flag.Bool("sort", true, "sort buckets by point key")
		useGPU  = flag.Bool("gpu", false, "run on a Vulkan device")
		heatmap = flag.String("heatmap", "", "write a level-0 occupancy PNG")
		scale   = flag.Int("scale", 1, "heatmap pixels per bucket")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *verbose {
		pointbucket.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := pointbucket.Config{
		Width:       *width,
		Height:      *height,
		Depth:       *depth,
		MaxMips:     *mips,
		PointsCount: *count,
		Sort:        *sorted,
	}
	dims := 2
	if *depth > 0 {
		dims = 3
	}
	points := pointbucket.Scatter(*count, dims, *seed)
	for i := range points {
		points[i].Radius = float32(*radius)
	}

	newRunner := hostRunner
	if *useGPU {
		newRunner = gpuRunner
	}

	stats, err := run(context.Background(), cfg, points, newRunner, !*useGPU)
	if err != nil {
		log.Fatalf("bucketstat: %v", err)
	}

	report(cfg, stats)
	if stats[0].digest != stats[1].digest {
		log.Fatalf("bucketstat: variants disagree: %016x != %016x", stats[0].digest, stats[1].digest)
	}

	if *heatmap != "" {
		if err := writeHeatmap(*heatmap, cfg, stats[0], *scale); err != nil {
			log.Fatalf("bucketstat: %v", err)
		}
		log.Printf("Heatmap saved to %s", *heatmap)
	}
}

func hostRunner() (runner, error) {
	g := rendergraph.NewHostGraph()
	return runner{graph: g, closer: g.Close}, nil
}

func gpuRunner() (runner, error) {
	g, err := halgraph.Open()
	if err != nil {
		return runner{}, err
	}
	return runner{graph: g, closer: g.Close}, nil
}

// run buckets points with both variants. Host runs proceed concurrently;
// device runs share one adapter and go one at a time.
func run(ctx context.Context, cfg pointbucket.Config, points []pointbucket.Point,
	newRunner func() (runner, error), concurrent bool) ([2]frameStats, error) {
	var stats [2]frameStats
	variants := [2]pointbucket.Variant{pointbucket.VariantArray, pointbucket.VariantList}

	eg, ctx := errgroup.WithContext(ctx)
	if !concurrent {
		eg.SetLimit(1)
	}
	for i, v := range variants {
		eg.Go(func() error {
			r, err := newRunner()
			if err != nil {
				return err
			}
			defer r.closer()
			s, err := bucketFrame(ctx, r.graph, v, cfg, points)
			if err != nil {
				return fmt.Errorf("%s: %w", v, err)
			}
			stats[i] = s
			return nil
		})
	}
	return stats, eg.Wait()
}

func bucketFrame(ctx context.Context, g rendergraph.Graph, v pointbucket.Variant,
	cfg pointbucket.Config, points []pointbucket.Point) (frameStats, error) {
	data := pointbucket.EncodePoints(points)
	if len(data) == 0 {
		data = make([]byte, pointbucket.PointInputSize)
	}
	pts, err := g.CreateBuffer(rendergraph.BufferDesc{Label: "points", Size: uint64(len(data))})
	if err != nil {
		return frameStats{}, err
	}
	defer g.DestroyBuffer(pts)
	if err := g.WriteBuffer(pts, 0, data); err != nil {
		return frameStats{}, err
	}

	var b pointbucket.Bucketeer
	switch v {
	case pointbucket.VariantArray:
		b, err = pointbucket.NewArrayBucketeer(g, cfg, pointbucket.WithLabel("bucketstat"))
	default:
		b, err = pointbucket.NewListBucketeer(g, cfg, pointbucket.WithLabel("bucketstat"))
	}
	if err != nil {
		return frameStats{}, err
	}
	defer b.Destroy()

	start := time.Now()
	res, err := b.Record(pts)
	if err != nil {
		return frameStats{}, err
	}
	if err := g.Execute(ctx); err != nil {
		return frameStats{}, err
	}
	s := frameStats{variant: v, elapsed: time.Since(start)}

	level0 := b.Grid().Level(0).BucketsCount()
	s.level0 = make([]uint32, level0)
	switch v {
	case pointbucket.VariantArray:
		snap, err := pointbucket.ReadArray(g, res)
		if err != nil {
			return s, err
		}
		if err := snap.Validate(b.Grid(), points, cfg.Sort); err != nil {
			return s, err
		}
		for i, bk := range snap.Buckets {
			s.observe(uint32(i), bk.PointsCount) //nolint:gosec // bucket index fits uint32
		}
		s.digest = snap.PrimaryDigest(points)
		s.entries = snap.Digest()
		s.groups = snap.Groups
	default:
		snap, err := pointbucket.ReadList(g, res)
		if err != nil {
			return s, err
		}
		if err := snap.Validate(b.Grid(), points, cfg.Sort); err != nil {
			return s, err
		}
		for i, bk := range snap.Buckets {
			s.observe(uint32(i), bk.PointsCount) //nolint:gosec // bucket index fits uint32
		}
		s.digest = snap.Digest()
	}
	if err := b.MarkConsumed(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *frameStats) observe(bucket, count uint32) {
	if count == 0 {
		return
	}
	s.occupied++
	s.maxCount = max(s.maxCount, count)
	if bucket < uint32(len(s.level0)) { //nolint:gosec // level sizes fit uint32
		s.level0[bucket] = count
	}
}

func report(cfg pointbucket.Config, stats [2]frameStats) {
	p := message.NewPrinter(language.English)
	p.Printf("grid %dx%dx%d, %d points, sort=%v\n", cfg.Width, cfg.Height, cfg.Depth, cfg.PointsCount, cfg.Sort)
	for _, s := range stats {
		p.Printf("  %-6s %10v  occupied %d buckets, max %d points, digest %016x\n",
			s.variant, s.elapsed.Round(time.Microsecond), s.occupied, s.maxCount, s.digest)
	}
	p.Printf("  array entries across all levels: digest %016x\n", stats[0].entries)
	for i, grp := range stats[0].groups {
		if grp.BucketsCount == 0 {
			continue
		}
		p.Printf("  group %2d: %d buckets at %d\n", i, grp.BucketsCount, grp.BucketIndexGlobalOffset)
	}
}

// writeHeatmap renders level-0 occupancy of the first depth slice, one gray
// pixel per bucket scaled by the fullest bucket, upscaled by scale.
func writeHeatmap(path string, cfg pointbucket.Config, s frameStats, scale int) error {
	if scale < 1 {
		return errors.New("heatmap scale must be positive")
	}
	src := image.NewGray(image.Rect(0, 0, cfg.Width, cfg.Height))
	var peak uint32
	for _, c := range s.level0[:cfg.Width*cfg.Height] {
		peak = max(peak, c)
	}
	if peak > 0 {
		for y := 0; y < cfg.Height; y++ {
			for x := 0; x < cfg.Width; x++ {
				c := s.level0[y*cfg.Width+x]
				src.SetGray(x, y, color.Gray{Y: uint8(c * 255 / peak)}) //nolint:gosec // c <= peak
			}
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, cfg.Width*scale, cfg.Height*scale+16))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.NearestNeighbor.Scale(dst, image.Rect(0, 16, cfg.Width*scale, cfg.Height*scale+16), src, src.Bounds(), draw.Src, nil)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 200, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(2, 12),
	}
	d.DrawString(fmt.Sprintf("level 0, peak %d", peak))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
