package pointbucket

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/pointbucket/rendergraph"
)

func TestNopHandler_Enabled(t *testing.T) {
	h := nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("nopHandler.Enabled(%v) = true, want false", level)
		}
	}
}

func TestNopHandler_WithAttrs(t *testing.T) {
	got := nopHandler{}.WithAttrs([]slog.Attr{slog.String("key", "val")})
	if _, ok := got.(nopHandler); !ok {
		t.Errorf("nopHandler.WithAttrs() returned %T, want nopHandler", got)
	}
}

func TestLoggerDefaultSilent(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("default logger should not be enabled for %v", level)
		}
	}
}

func TestSetLoggerPropagatesToRenderGraph(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)

	if Logger() != custom {
		t.Error("Logger() did not return the logger set via SetLogger")
	}
	if rendergraph.Logger() != custom {
		t.Error("SetLogger did not propagate to rendergraph")
	}

	g := rendergraph.NewHostGraph(rendergraph.WithWorkers(1))
	defer g.Close()
	b, err := NewListBucketeer(g, Config{Width: 4, Height: 4, PointsCount: 1})
	if err != nil {
		t.Fatalf("NewListBucketeer: %v", err)
	}
	defer b.Destroy()

	if !strings.Contains(buf.String(), "grid configured") {
		t.Errorf("expected grid debug record, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "host buffer created") {
		t.Errorf("expected rendergraph debug record, got: %s", buf.String())
	}
}

func TestSetLoggerNilRestoresSilent(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	SetLogger(slog.Default())
	SetLogger(nil)

	if l := Logger(); l == nil || l.Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) should install a disabled logger")
	}
	if rendergraph.Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) should silence rendergraph too")
	}
}

func TestWithLoggerOverridesPackageLogger(t *testing.T) {
	var buf bytes.Buffer
	own := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	g := rendergraph.NewHostGraph(rendergraph.WithWorkers(1))
	defer g.Close()
	b, err := NewArrayBucketeer(g, Config{Width: 4, Height: 4, PointsCount: 1},
		WithLogger(own), WithLabel("scene"))
	if err != nil {
		t.Fatalf("NewArrayBucketeer: %v", err)
	}
	b.Destroy()

	out := buf.String()
	if !strings.Contains(out, "variant=array") {
		t.Errorf("expected variant attribute, got: %s", out)
	}
	if !strings.Contains(out, "label=scene") {
		t.Errorf("expected destroy record with label, got: %s", out)
	}
}
