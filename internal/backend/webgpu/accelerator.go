//go:build windows

// Package webgpu implements gpu.Accelerator on WebGPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
package webgpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/orchard-ml/orchard/internal/gpu"
)

// Accelerator owns a WebGPU device and its default queue.
type Accelerator struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	name     string

	mu       sync.Mutex
	released bool
}

// Open creates an accelerator on the high-performance adapter.
// Returns gpu.ErrDeviceUnavailable if WebGPU cannot be initialized.
func Open() (acc gpu.Accelerator, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			acc = nil
			err = fmt.Errorf("%w: native library not available: %v", gpu.ErrDeviceUnavailable, r)
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", gpu.ErrDeviceUnavailable, err)
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: request adapter: %v", gpu.ErrDeviceUnavailable, err)
	}
	info, _ := adapter.GetInfo()

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: request device: %v", gpu.ErrDeviceUnavailable, err)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: no queue", gpu.ErrDeviceUnavailable)
	}

	name := "webgpu"
	// Adapter info is optional.
	if info != nil && info.Description != "" {
		name = fmt.Sprintf("webgpu (%s)", info.Description)
	}
	return &Accelerator{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		name:     name,
	}, nil
}

// IsAvailable reports whether a WebGPU device can be opened.
func IsAvailable() bool {
	acc, err := Open()
	if err != nil {
		return false
	}
	acc.Release()
	return true
}

// Name implements gpu.Accelerator.
func (a *Accelerator) Name() string { return a.name }

// NewBuffer implements gpu.Accelerator.
func (a *Accelerator) NewBuffer(desc gpu.BufferDesc) (b gpu.Buffer, err error) {
	defer recoverInto(&err, "create buffer")

	size := alignedSize(desc.Size)
	buf := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	if buf == nil {
		return nil, fmt.Errorf("webgpu: create buffer of %d bytes failed", size)
	}
	return &Buffer{buf: buf, size: desc.Size, purgeable: desc.Purgeable}, nil
}

// Compile implements gpu.Accelerator.
func (a *Accelerator) Compile(name, source string) (p gpu.Pipeline, err error) {
	defer recoverInto(&err, "compile "+name)

	shader := a.device.CreateShaderModuleWGSL(source)
	if shader == nil {
		return nil, fmt.Errorf("webgpu: shader %s did not compile", name)
	}
	pipeline := a.device.CreateComputePipelineSimple(nil, shader, "main")
	if pipeline == nil {
		shader.Release()
		return nil, fmt.Errorf("webgpu: pipeline %s could not be created", name)
	}
	return &Pipeline{name: name, shader: shader, pipeline: pipeline}, nil
}

// NewQueue implements gpu.Accelerator.
func (a *Accelerator) NewQueue() (q gpu.Queue, err error) {
	defer recoverInto(&err, "create queue")
	return newQueue(a), nil
}

// Release implements gpu.Accelerator.
func (a *Accelerator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	a.device.Release()
	a.adapter.Release()
	a.instance.Release()
}

// Buffer is a storage buffer usable as copy source and destination.
type Buffer struct {
	buf       *wgpu.Buffer
	size      int
	purgeable bool
	once      sync.Once
}

// Size implements gpu.Buffer.
func (b *Buffer) Size() int { return b.size }

// Purgeable implements gpu.Buffer.
func (b *Buffer) Purgeable() bool { return b.purgeable }

// Handle implements gpu.Buffer.
func (b *Buffer) Handle() uintptr { return uintptr(unsafe.Pointer(b.buf)) }

// Release implements gpu.Buffer.
func (b *Buffer) Release() {
	b.once.Do(b.buf.Release)
}

// Pipeline is a compiled compute pipeline.
type Pipeline struct {
	name     string
	shader   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
}

// Name implements gpu.Pipeline.
func (p *Pipeline) Name() string { return p.name }

// Release implements gpu.Pipeline.
func (p *Pipeline) Release() {
	p.pipeline.Release()
	p.shader.Release()
}

// alignedSize rounds n up to the 4-byte granularity WebGPU copies require.
func alignedSize(n int) uint64 {
	//nolint:gosec // G115: buffer sizes are positive
	return (uint64(n) + 3) &^ 3
}

func recoverInto(err *error, what string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("webgpu: %s: %v", what, r)
	}
}
