// Package dispatch runs tensor operations on the device that owns their
// operands. GPU work goes through the pipeline registry and a pooled queue;
// when any GPU step fails the operation is re-run on the host against
// staged copies of the device buffers and the results are copied back, so
// callers see a GPU-resident result either way.
package dispatch

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orchard-ml/orchard/internal/device"
	"github.com/orchard-ml/orchard/internal/gpu"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Stats counts how operations were executed.
type Stats struct {
	HostOps   int64
	GPUOps    int64
	Fallbacks int64
}

// Dispatcher executes operations for one worker.
type Dispatcher struct {
	ctx *device.Context

	hostOps   atomic.Int64
	gpuOps    atomic.Int64
	fallbacks atomic.Int64
}

// New returns a dispatcher over ctx.
func New(ctx *device.Context) *Dispatcher {
	return &Dispatcher{ctx: ctx}
}

// Context returns the device context.
func (d *Dispatcher) Context() *device.Context { return d.ctx }

// Stats returns execution counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		HostOps:   d.hostOps.Load(),
		GPUOps:    d.gpuOps.Load(),
		Fallbacks: d.fallbacks.Load(),
	}
}

// launch describes one kernel execution. bufs are the stores in binding
// order; writes lists the indices the kernel modifies. host runs the same
// computation on host float32 slices indexed like bufs.
type launch struct {
	kernel  string
	bufs    []*tensor.Storage
	writes  []int
	params  gpu.Params
	threads int
	host    func(bufs [][]float32)
}

// run executes l on dev.
func (d *Dispatcher) run(dev tensor.Device, l *launch) error {
	if dev == tensor.CPU {
		floats := make([][]float32, len(l.bufs))
		for i, s := range l.bufs {
			floats[i] = s.Floats()
		}
		l.host(floats)
		d.hostOps.Add(1)
		return nil
	}

	err := d.runGPU(l)
	if err == nil {
		d.gpuOps.Add(1)
		return nil
	}
	d.fallbacks.Add(1)
	klog.V(1).Infof("dispatch: %s failed on GPU, running on host: %v", l.kernel, err)
	return d.fallback(l)
}

func (d *Dispatcher) runGPU(l *launch) error {
	g := d.ctx.GPU
	if g == nil {
		return tensor.ErrDeviceUnavailable
	}
	p, err := g.Registry().Get(l.kernel)
	if err != nil {
		return err
	}
	buffers := make([]gpu.Buffer, len(l.bufs))
	for i, s := range l.bufs {
		buffers[i] = s.Buffer()
	}
	return g.WithQueue(func(q gpu.Queue) error {
		return q.Dispatch(p, buffers, l.params, l.threads)
	})
}

// fallback stages every buffer of l to the host, runs the host kernel and
// copies the written buffers back.
func (d *Dispatcher) fallback(l *launch) error {
	staged := make([]*tensor.Storage, len(l.bufs))
	defer func() {
		for _, s := range staged {
			if s != nil {
				s.Release()
			}
		}
	}()
	floats := make([][]float32, len(l.bufs))
	for i, s := range l.bufs {
		h, err := d.stage(s)
		if err != nil {
			return errors.Wrapf(err, "%s: stage operand %d", l.kernel, i)
		}
		staged[i] = h
		floats[i] = h.Floats()
	}
	l.host(floats)
	for _, i := range l.writes {
		if err := d.ctx.Copy(l.bufs[i], 0, staged[i], 0, l.bufs[i].Size()); err != nil {
			return errors.Wrapf(err, "%s: write back result", l.kernel)
		}
	}
	d.hostOps.Add(1)
	return nil
}

// stage returns a host copy of s.
func (d *Dispatcher) stage(s *tensor.Storage) (*tensor.Storage, error) {
	h, err := d.ctx.Allocator(tensor.CPU).Allocate(s.Size(), tensor.CPU)
	if err != nil {
		return nil, err
	}
	if s.Device() == tensor.GPU {
		if err := d.ctx.Copy(h, 0, s, 0, s.Size()); err != nil {
			h.Release()
			return nil, err
		}
	} else {
		copy(h.Bytes(), s.Bytes())
	}
	return h, nil
}

// pinned holds storage references for the duration of an operation.
type pinned []*tensor.Storage

func pin(views ...*tensor.View) (pinned, error) {
	p := make(pinned, 0, len(views))
	for _, v := range views {
		s, err := v.Acquire()
		if err != nil {
			p.release()
			return nil, err
		}
		p = append(p, s)
	}
	return p, nil
}

func (p pinned) release() {
	for _, s := range p {
		s.Release()
	}
}

func sameDevice(views ...*tensor.View) (tensor.Device, error) {
	dev := views[0].Device()
	for _, v := range views[1:] {
		if v.Device() != dev {
			return dev, errors.Wrapf(tensor.ErrInvalidArgument, "operands on %s and %s", dev, v.Device())
		}
	}
	return dev, nil
}

func valid(views ...*tensor.View) error {
	for _, v := range views {
		if !v.Valid() {
			return tensor.ErrReleased
		}
	}
	return nil
}

// u32 narrows a non-negative extent, stride or offset for the uniform block.
func u32(v int) uint32 {
	return uint32(v) //nolint:gosec // tensor extents, strides and offsets are non-negative
}

func boolMode(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
