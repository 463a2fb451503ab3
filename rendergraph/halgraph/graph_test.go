//go:build !nogpu

package halgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/pointbucket/rendergraph"
)

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

func TestNew_NilDevice(t *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("New(nil, nil): err = %v, want ErrNilDevice", err)
	}
	if _, err := NewFromProvider(nil); !errors.Is(err, ErrNoHAL) {
		t.Errorf("NewFromProvider(nil): err = %v, want ErrNoHAL", err)
	}
}

func TestBufferUsage(t *testing.T) {
	tests := []struct {
		in, want gputypes.BufferUsage
	}{
		{0, gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc},
		{gputypes.BufferUsageUniform, gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc},
		{gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc, gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc},
	}
	for _, tt := range tests {
		if got := bufferUsage(tt.in); got != tt.want {
			t.Errorf("bufferUsage(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLayoutEntries(t *testing.T) {
	k := &rendergraph.Kernel{
		Name:     "k",
		Bindings: []rendergraph.Access{rendergraph.AccessUniform, rendergraph.AccessRead, rendergraph.AccessReadWrite},
	}
	entries := layoutEntries(k)
	want := []gputypes.BufferBindingType{
		gputypes.BufferBindingTypeUniform,
		gputypes.BufferBindingTypeReadOnlyStorage,
		gputypes.BufferBindingTypeStorage,
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Binding != uint32(i) {
			t.Errorf("entry %d binding = %d", i, e.Binding)
		}
		if e.Visibility != gputypes.ShaderStageCompute {
			t.Errorf("entry %d not visible to compute", i)
		}
		if e.Buffer == nil || e.Buffer.Type != want[i] {
			t.Errorf("entry %d buffer layout = %+v, want type %v", i, e.Buffer, want[i])
		}
	}
}

func TestGraph_BufferLifecycle(t *testing.T) {
	device, queue := createNoopDevice(t)
	g, err := New(device, queue)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	id, err := g.CreateBuffer(rendergraph.BufferDesc{Label: "data", Size: 10})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := g.WriteBuffer(id, 0, make([]byte, 12)); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	if err := g.WriteBuffer(id, 0, make([]byte, 16)); !errors.Is(err, rendergraph.ErrOutOfRange) {
		t.Errorf("overflowing write: err = %v, want ErrOutOfRange", err)
	}
	if err := g.WriteBuffer(id, 1, make([]byte, 4)); err == nil {
		t.Error("unaligned write accepted")
	}

	g.DestroyBuffer(id)
	if err := g.WriteBuffer(id, 0, make([]byte, 4)); !errors.Is(err, rendergraph.ErrUnknownBuffer) {
		t.Errorf("write after destroy: err = %v, want ErrUnknownBuffer", err)
	}
}

func TestGraph_HazardsCheckedAtDeclaration(t *testing.T) {
	device, queue := createNoopDevice(t)
	g, err := New(device, queue)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	id, _ := g.CreateBuffer(rendergraph.BufferDesc{Label: "data", Size: 16})
	if err := g.AddPass(rendergraph.PassDesc{Name: "read", Reads: []rendergraph.BufferID{id}}, nil); !errors.Is(err, rendergraph.ErrReadBeforeWrite) {
		t.Errorf("AddPass: err = %v, want ErrReadBeforeWrite", err)
	}
}

func TestGraph_ExecuteEmpty(t *testing.T) {
	device, queue := createNoopDevice(t)
	g, err := New(device, queue, WithShaderFormat(ShaderSPIRV))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Execute(context.Background()); err != nil {
		t.Errorf("Execute with no passes: %v", err)
	}
	if g.Pipelines() != 0 {
		t.Errorf("Pipelines() = %d, want 0", g.Pipelines())
	}

	g.Close()
	g.Close()
	if _, err := g.CreateBuffer(rendergraph.BufferDesc{Size: 4}); !errors.Is(err, rendergraph.ErrGraphClosed) {
		t.Errorf("CreateBuffer after Close: err = %v", err)
	}
	if err := g.Execute(context.Background()); !errors.Is(err, rendergraph.ErrGraphClosed) {
		t.Errorf("Execute after Close: err = %v", err)
	}
}
