// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package halgraph

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pointbucket/rendergraph"
)

// CompileSPIRV compiles WGSL source to SPIR-V words with naga.
func CompileSPIRV(wgsl string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("halgraph: compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

// layoutEntries returns the bind group layout of a kernel. Entries match
// the @group(0) @binding(i) declarations of its source.
func layoutEntries(k *rendergraph.Kernel) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, len(k.Bindings))
	for i, a := range k.Bindings {
		var typ gputypes.BufferBindingType
		switch a {
		case rendergraph.AccessUniform:
			typ = gputypes.BufferBindingTypeUniform
		case rendergraph.AccessRead:
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		default:
			typ = gputypes.BufferBindingTypeStorage
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // binding count is small
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}
	return entries
}

func (g *Graph) shaderSource(k *rendergraph.Kernel) (hal.ShaderSource, error) {
	if g.opts.format == ShaderSPIRV {
		words, err := CompileSPIRV(k.Source)
		if err != nil {
			return hal.ShaderSource{}, fmt.Errorf("kernel %s: %w", k.Name, err)
		}
		return hal.ShaderSource{SPIRV: words}, nil
	}
	return hal.ShaderSource{WGSL: k.Source}, nil
}

// pipelineFor returns the cached pipeline of a kernel, creating it on first
// use. Callers hold g.mu.
func (g *Graph) pipelineFor(k *rendergraph.Kernel) (*pipeline, error) {
	if p, ok := g.pipelines[k.Name]; ok {
		return p, nil
	}

	src, err := g.shaderSource(k)
	if err != nil {
		return nil, err
	}

	p := &pipeline{}
	p.module, err = g.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  k.Name,
		Source: src,
	})
	if err != nil {
		return nil, fmt.Errorf("halgraph: create shader module for %s: %w", k.Name, err)
	}

	entries := layoutEntries(k)
	p.bindLayout, err = g.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   k.Name + "_bgl",
		Entries: entries,
	})
	if err != nil {
		g.destroyPipeline(p)
		return nil, fmt.Errorf("halgraph: create bind group layout for %s: %w", k.Name, err)
	}

	p.pipelineLayout, err = g.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            k.Name + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		g.destroyPipeline(p)
		return nil, fmt.Errorf("halgraph: create pipeline layout for %s: %w", k.Name, err)
	}

	p.compute, err = g.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  k.Name,
		Layout: p.pipelineLayout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: k.Entry(),
		},
	})
	if err != nil {
		g.destroyPipeline(p)
		return nil, fmt.Errorf("halgraph: create compute pipeline for %s: %w", k.Name, err)
	}

	g.pipelines[k.Name] = p
	rendergraph.Logger().Debug("halgraph: pipeline created",
		"kernel", k.Name, "bindings", len(entries), "shader_bytes", len(k.Source))
	return p, nil
}

// destroyPipeline releases whatever part of p was created.
func (g *Graph) destroyPipeline(p *pipeline) {
	if p.compute != nil {
		g.device.DestroyComputePipeline(p.compute)
	}
	if p.pipelineLayout != nil {
		g.device.DestroyPipelineLayout(p.pipelineLayout)
	}
	if p.bindLayout != nil {
		g.device.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.module != nil {
		g.device.DestroyShaderModule(p.module)
	}
}
