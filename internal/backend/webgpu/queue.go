//go:build windows

package webgpu

import (
	"fmt"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/orchard-ml/orchard/internal/gpu"
)

// Queue is a submission context on the device queue. It owns a fence pair
// used to block until submitted work has completed.
type Queue struct {
	acc      *Accelerator
	fenceSrc *wgpu.Buffer
	fenceDst *wgpu.Buffer
}

func newQueue(a *Accelerator) *Queue {
	return &Queue{
		acc: a,
		fenceSrc: a.device.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
			Size:  4,
		}),
		fenceDst: a.device.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
			Size:  4,
		}),
	}
}

func unwrap(b gpu.Buffer) (*wgpu.Buffer, error) {
	wb, ok := b.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("webgpu: foreign buffer %T", b)
	}
	return wb.buf, nil
}

// stagingUpload creates a CopySrc buffer initialised with data.
func (q *Queue) stagingUpload(data []byte) *wgpu.Buffer {
	size := alignedSize(len(data))
	buf := q.acc.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := buf.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mapped), size), data)
	buf.Unmap()
	return buf
}

// Upload implements gpu.Queue.
func (q *Queue) Upload(dst gpu.Buffer, offset int, src []byte) (err error) {
	defer recoverInto(&err, "upload")
	d, err := unwrap(dst)
	if err != nil {
		return err
	}
	staging := q.stagingUpload(src)
	defer staging.Release()

	enc := q.acc.device.CreateCommandEncoder(nil)
	//nolint:gosec // G115: offsets are non-negative
	enc.CopyBufferToBuffer(staging, 0, d, uint64(offset), alignedSize(len(src)))
	q.acc.queue.Submit(enc.Finish(nil))
	return q.wait()
}

// Download implements gpu.Queue.
func (q *Queue) Download(dst []byte, src gpu.Buffer, offset int) (err error) {
	defer recoverInto(&err, "download")
	s, err := unwrap(src)
	if err != nil {
		return err
	}
	size := alignedSize(len(dst))
	staging := q.acc.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	enc := q.acc.device.CreateCommandEncoder(nil)
	//nolint:gosec // G115: offsets are non-negative
	enc.CopyBufferToBuffer(s, uint64(offset), staging, 0, size)
	q.acc.queue.Submit(enc.Finish(nil))

	if err := staging.MapAsync(q.acc.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: map staging buffer: %w", err)
	}
	mapped := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(dst, unsafe.Slice((*byte)(mapped), size))
	staging.Unmap()
	return nil
}

// Copy implements gpu.Queue.
func (q *Queue) Copy(dst gpu.Buffer, dstOffset int, src gpu.Buffer, srcOffset, size int) (err error) {
	defer recoverInto(&err, "copy")
	d, err := unwrap(dst)
	if err != nil {
		return err
	}
	s, err := unwrap(src)
	if err != nil {
		return err
	}
	enc := q.acc.device.CreateCommandEncoder(nil)
	//nolint:gosec // G115: offsets are non-negative
	enc.CopyBufferToBuffer(s, uint64(srcOffset), d, uint64(dstOffset), alignedSize(size))
	q.acc.queue.Submit(enc.Finish(nil))
	return q.wait()
}

// Dispatch implements gpu.Queue.
func (q *Queue) Dispatch(p gpu.Pipeline, buffers []gpu.Buffer, params gpu.Params, threads int) (err error) {
	defer recoverInto(&err, "dispatch "+p.Name())

	wp, ok := p.(*Pipeline)
	if !ok {
		return fmt.Errorf("webgpu: foreign pipeline %T", p)
	}
	groups := gpu.Workgroups(threads)
	if groups > gpu.MaxWorkgroups {
		return fmt.Errorf("webgpu: %d workgroups exceed the dispatch limit", groups)
	}

	uniform := q.acc.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             gpu.ParamsSize,
		MappedAtCreation: wgpu.True,
	})
	defer uniform.Release()
	mapped := uniform.GetMappedRange(0, gpu.ParamsSize)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mapped), gpu.ParamsSize), params.Bytes())
	uniform.Unmap()

	entries := make([]wgpu.BindGroupEntry, 0, len(buffers)+1)
	for i, b := range buffers {
		wb, ok := b.(*Buffer)
		if !ok {
			return fmt.Errorf("webgpu: foreign buffer %T", b)
		}
		//nolint:gosec // G115: binding index is small
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), wb.buf, 0, alignedSize(wb.size)))
	}
	//nolint:gosec // G115: binding index is small
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(buffers)), uniform, 0, gpu.ParamsSize))

	layout := wp.pipeline.GetBindGroupLayout(0)
	bindGroup := q.acc.device.CreateBindGroupSimple(layout, entries)
	defer bindGroup.Release()

	enc := q.acc.device.CreateCommandEncoder(nil)
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(wp.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: bounded by MaxWorkgroups
	pass.DispatchWorkgroups(uint32(groups), 1, 1)
	pass.End()
	q.acc.queue.Submit(enc.Finish(nil))
	return q.wait()
}

// wait blocks until all work submitted so far has completed by mapping a
// fence buffer written after it.
func (q *Queue) wait() error {
	enc := q.acc.device.CreateCommandEncoder(nil)
	enc.CopyBufferToBuffer(q.fenceSrc, 0, q.fenceDst, 0, 4)
	q.acc.queue.Submit(enc.Finish(nil))
	if err := q.fenceDst.MapAsync(q.acc.device, wgpu.MapModeRead, 0, 4); err != nil {
		return fmt.Errorf("webgpu: wait for queue: %w", err)
	}
	q.fenceDst.Unmap()
	return nil
}

// Release implements gpu.Queue.
func (q *Queue) Release() {
	q.fenceSrc.Release()
	q.fenceDst.Release()
}
