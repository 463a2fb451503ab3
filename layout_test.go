package pointbucket

import (
	"math"
	"testing"
	"unsafe"
)

func TestLayoutSizesMatchGoStructs(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want int
	}{
		{"MipInfo", unsafe.Sizeof(MipInfo{}), MipInfoSize},
		{"Bucket", unsafe.Sizeof(Bucket{}), BucketSize},
		{"BucketEntry", unsafe.Sizeof(BucketEntry{}), BucketEntrySize},
		{"BucketGroup", unsafe.Sizeof(BucketGroup{}), BucketGroupSize},
		{"ListBucket", unsafe.Sizeof(ListBucket{}), ListBucketSize},
		{"PointNode", unsafe.Sizeof(PointNode{}), PointNodeSize},
		{"BlockPointNode", unsafe.Sizeof(BlockPointNode{}), BlockPointNodeSize},
		{"Params", unsafe.Sizeof(Params{}), ParamsSize},
	}
	for _, tt := range tests {
		if int(tt.got) != tt.want {
			t.Errorf("sizeof(%s) = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestMipInfoBytes(t *testing.T) {
	g := NewGrid2D(8, 4, 0)
	b := g.mipInfoBytes()
	if len(b) != g.MipCount()*MipInfoSize {
		t.Fatalf("len = %d, want %d", len(b), g.MipCount()*MipInfoSize)
	}

	// Level 1 is 4x2 at offset 32.
	l1 := b[MipInfoSize:]
	if le.Uint32(l1[0:]) != 4 || le.Uint32(l1[4:]) != 2 || le.Uint32(l1[8:]) != 1 {
		t.Errorf("level 1 size = %d,%d,%d", le.Uint32(l1[0:]), le.Uint32(l1[4:]), le.Uint32(l1[8:]))
	}
	if le.Uint32(l1[12:]) != 2 {
		t.Errorf("level 1 size.w = %d, want dims 2", le.Uint32(l1[12:]))
	}
	if le.Uint32(l1[16:]) != 32 {
		t.Errorf("level 1 offset = %d, want 32", le.Uint32(l1[16:]))
	}

	decoded := decodeMipInfos(b)
	if len(decoded) != g.MipCount() {
		t.Fatalf("decoded %d levels", len(decoded))
	}
	for i, mi := range g.MipInfos() {
		if decoded[i] != mi {
			t.Errorf("level %d: decoded %+v, want %+v", i, decoded[i], mi)
		}
	}
}

func TestParamsBytes(t *testing.T) {
	p := Params{
		PointsCount:  10,
		MipCount:     4,
		TotalBuckets: 85,
		MaxIndices:   125,
		GroupsCount:  16,
		Dims:         2,
		MaxDim:       8,
	}
	b := p.bytes()
	if len(b) != ParamsSize {
		t.Fatalf("len = %d, want %d", len(b), ParamsSize)
	}
	if got := decodeParams(b); got != p {
		t.Errorf("decodeParams = %+v, want %+v", got, p)
	}
	if le.Uint32(b[28:]) != 0 {
		t.Error("padding word not zero")
	}
}

func TestEncodePointsLayout(t *testing.T) {
	pts := []Point{
		{Position: [3]float32{0.25, 0.5, 0.75}, Radius: 0.125, SortKey: 3},
		{Position: [3]float32{0.1, 0.2, 0.3}, SortKey: -1},
	}
	b := EncodePoints(pts)
	if len(b) != 2*PointInputSize {
		t.Fatalf("len = %d, want %d", len(b), 2*PointInputSize)
	}
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(b[off:])) }
	if f(0) != 0.25 || f(4) != 0.5 || f(8) != 0.75 {
		t.Error("position not at bytes 0..12")
	}
	if f(12) != 0.125 {
		t.Errorf("radius = %v, want 0.125", f(12))
	}
	if f(16) != 3 {
		t.Errorf("sort key = %v, want 3", f(16))
	}
	if f(PointInputSize+16) != -1 {
		t.Errorf("second sort key = %v, want -1", f(PointInputSize+16))
	}

	got := DecodePoints(b)
	for i := range pts {
		if got[i] != pts[i] {
			t.Errorf("point %d: %+v, want %+v", i, got[i], pts[i])
		}
	}
}

func TestScatter_Deterministic(t *testing.T) {
	a := Scatter(1000, 3, 7)
	b := Scatter(1000, 3, 7)
	c := Scatter(1000, 3, 8)

	same := true
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("point %d differs between runs with the same seed", i)
		}
		if a[i] != c[i] {
			same = false
		}
		for d := range 3 {
			if v := a[i].Position[d]; !(v >= 0 && v < 1) {
				t.Fatalf("point %d axis %d = %v outside [0,1)", i, d, v)
			}
		}
		if a[i].Radius != 0 {
			t.Fatalf("point %d radius = %v, want 0", i, a[i].Radius)
		}
	}
	if same {
		t.Error("different seeds produced identical points")
	}
}

func TestScatter_2DLeavesZ(t *testing.T) {
	for i, p := range Scatter(100, 2, 1) {
		if p.Position[2] != 0 {
			t.Fatalf("point %d z = %v, want 0", i, p.Position[2])
		}
	}
}

func TestGroupOf(t *testing.T) {
	tests := []struct {
		count, groups, want uint32
	}{
		{1, 16, 0},
		{2, 16, 1},
		{3, 16, 1},
		{4, 16, 2},
		{1023, 16, 9},
		{1 << 20, 16, 15},
		{1 << 20, 4, 3},
		{5, 1, 0},
	}
	for _, tt := range tests {
		if got := groupOf(tt.count, tt.groups); got != tt.want {
			t.Errorf("groupOf(%d, %d) = %d, want %d", tt.count, tt.groups, got, tt.want)
		}
	}
}
