package pointbucket

import (
	"math"
	"slices"
	"testing"
)

func TestNewGrid2D_FullPyramid(t *testing.T) {
	g := NewGrid2D(512, 512, 0)

	if g.Dims() != 2 {
		t.Errorf("Dims() = %d, want 2", g.Dims())
	}
	if g.MipCount() != 10 {
		t.Fatalf("MipCount() = %d, want 10", g.MipCount())
	}
	if got := g.TotalBuckets(); got != 349525 {
		t.Errorf("TotalBuckets() = %d, want 349525", got)
	}

	want := []struct {
		size   int32
		offset uint32
	}{
		{512, 0},
		{256, 262144},
		{128, 262144 + 65536},
	}
	for i, w := range want {
		l := g.Level(i)
		if l.Size != [3]int32{w.size, w.size, 1} {
			t.Errorf("level %d size = %v, want %dx%dx1", i, l.Size, w.size, w.size)
		}
		if l.BucketIndexOffset != w.offset {
			t.Errorf("level %d offset = %d, want %d", i, l.BucketIndexOffset, w.offset)
		}
	}
	if last := g.Level(9); last.Size != [3]int32{1, 1, 1} {
		t.Errorf("last level size = %v, want 1x1x1", last.Size)
	}
}

func TestNewGrid_LevelsTileBucketRange(t *testing.T) {
	tests := []struct {
		name string
		g    *Grid
	}{
		{"square", NewGrid2D(64, 64, 0)},
		{"wide", NewGrid2D(300, 20, 0)},
		{"capped", NewGrid2D(1024, 1024, 3)},
		{"volume", NewGrid3D(32, 16, 8, 0)},
		{"single", NewGrid2D(1, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var next uint32
			for i, l := range tt.g.Levels() {
				if l.BucketIndexOffset != next {
					t.Fatalf("level %d offset = %d, want %d", i, l.BucketIndexOffset, next)
				}
				next += l.BucketsCount()
			}
			if next != tt.g.TotalBuckets() {
				t.Errorf("levels cover %d buckets, TotalBuckets() = %d", next, tt.g.TotalBuckets())
			}
		})
	}
}

func TestNewGrid_StopsBeforeZero(t *testing.T) {
	g := NewGrid2D(300, 20, 0)
	// 20 -> 10 -> 5 -> 2 -> 1, the next halving would reach zero.
	if g.MipCount() != 5 {
		t.Fatalf("MipCount() = %d, want 5", g.MipCount())
	}
	if got := g.Level(4).Size; got != [3]int32{18, 1, 1} {
		t.Errorf("last level = %v, want 18x1x1", got)
	}
}

func TestNewGrid_MipCap(t *testing.T) {
	g := NewGrid2D(1024, 1024, 3)
	if g.MipCount() != 3 {
		t.Fatalf("MipCount() = %d, want 3", g.MipCount())
	}
	if got := g.TotalBuckets(); got != 1024*1024+512*512+256*256 {
		t.Errorf("TotalBuckets() = %d", got)
	}
}

func TestGrid_MaxIndices(t *testing.T) {
	tests := []struct {
		name   string
		g      *Grid
		points uint32
		fanOut uint32
		want   uint32
	}{
		{"shallow pyramid", NewGrid2D(4, 4, 0), 64, MaxFanOut, 64*4 + 21},
		{"deep pyramid", NewGrid2D(512, 512, 0), 10000, 10, 10000*10 + 349525},
		{"capped pyramid", NewGrid2D(512, 512, 6), 10000, 6, 10000*6 + 349440},
		{"no points", NewGrid2D(512, 512, 0), 0, 10, 349525},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.g.FanOut(); got != tt.fanOut {
				t.Errorf("FanOut() = %d, want %d", got, tt.fanOut)
			}
			if got := tt.g.MaxIndices(tt.points); got != tt.want {
				t.Errorf("MaxIndices(%d) = %d, want %d", tt.points, got, tt.want)
			}
		})
	}
}

func TestGrid_CoordsRoundTrip(t *testing.T) {
	g := NewGrid3D(16, 8, 4, 0)
	for b := uint32(0); b < g.TotalBuckets(); b++ {
		level, x, y, z := g.Coords(b)
		if got := g.BucketIndex(level, x, y, z); got != b {
			t.Fatalf("BucketIndex(Coords(%d)) = %d", b, got)
		}
	}
}

func TestGrid_SelectLevel(t *testing.T) {
	g := NewGrid2D(512, 512, 0)
	tests := []struct {
		radius float32
		want   int
	}{
		{0, 0},
		{0.5 / 512, 0},             // diameter of exactly one bucket
		{1.0 / 512, 1},             // two buckets wide
		{1.5 / 512, 2},             // three buckets wide
		{4.0 / 512, 3},             // eight buckets wide
		{0.5, 9},                   // whole screen
		{100, 9},                   // clamped to the last level
		{1e30, 9},                  // diameter overflows float32
		{float32(math.Inf(1)), 9},  // infinite footprint
		{float32(math.NaN()), 0},   // no footprint
		{-1, 0},                    // negative radius
		{math.MaxFloat32, 9},       // largest finite radius
		{float32(math.Inf(-1)), 0}, // negative infinity
	}
	for _, tt := range tests {
		if got := g.SelectLevel(tt.radius); got != tt.want {
			t.Errorf("SelectLevel(%v) = %d, want %d", tt.radius, got, tt.want)
		}
	}
}

func TestGrid_Locate(t *testing.T) {
	g := NewGrid2D(4, 4, 0)
	tests := []struct {
		name string
		p    Point
		want uint32
		ok   bool
	}{
		{"origin", Point{Position: [3]float32{0, 0, 0}}, 0, true},
		{"last cell", Point{Position: [3]float32{0.99, 0.99, 0}}, 15, true},
		{"row major", Point{Position: [3]float32{0.3, 0.6, 0}}, 1 + 4*2, true},
		{"z ignored in 2D", Point{Position: [3]float32{0, 0, 7}}, 0, true},
		{"level 1", Point{Position: [3]float32{0.6, 0.1, 0}, Radius: 0.25}, 16 + 1, true},
		{"x == 1 culled", Point{Position: [3]float32{1, 0.5, 0}}, 0, false},
		{"negative culled", Point{Position: [3]float32{-0.1, 0.5, 0}}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.Locate(tt.p)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("Locate() = %d, %v; want %d, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestGrid_LocateAll(t *testing.T) {
	g := NewGrid2D(8, 8, 0)
	tests := []struct {
		name string
		p    Point
		want []uint32
	}{
		{"every level", Point{Position: [3]float32{0.9, 0.1, 0}}, []uint32{7, 64 + 3, 80 + 1, 84}},
		{"from level 2", Point{Position: [3]float32{0.9, 0.1, 0}, Radius: 0.2}, []uint32{80 + 1, 84}},
		{"infinite radius", Point{Position: [3]float32{0.9, 0.1, 0}, Radius: float32(math.Inf(1))}, []uint32{84}},
		{"culled", Point{Position: [3]float32{0.9, 1.1, 0}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.LocateAll(tt.p)
			if !slices.Equal(got, tt.want) {
				t.Errorf("LocateAll() = %v, want %v", got, tt.want)
			}
			if primary, ok := g.Locate(tt.p); ok != (len(tt.want) > 0) || (ok && primary != tt.want[0]) {
				t.Errorf("Locate() = %d, %v; want first of %v", primary, ok, tt.want)
			}
		})
	}
}

func TestGrid_Locate3D(t *testing.T) {
	g := NewGrid3D(4, 4, 4, 0)
	got, ok := g.Locate(Point{Position: [3]float32{0.1, 0.3, 0.8}})
	if !ok {
		t.Fatal("point inside the cube was culled")
	}
	if want := uint32(0 + 4*(1+4*3)); got != want {
		t.Errorf("Locate() = %d, want %d", got, want)
	}
	if _, ok := g.Locate(Point{Position: [3]float32{0.5, 0.5, 1.5}}); ok {
		t.Error("point outside the cube depth was not culled")
	}
}
