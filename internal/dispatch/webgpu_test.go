package dispatch

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchard-ml/orchard/internal/device"
	"github.com/orchard-ml/orchard/internal/gpu"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// webgpuDispatcher returns a dispatcher on the real WebGPU device, skipping
// the test when none can be opened.
func webgpuDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	acc, err := device.Shared()
	if err != nil {
		require.True(t, errors.Is(err, gpu.ErrDeviceUnavailable), "unexpected open error: %v", err)
		t.Skipf("WebGPU not available: %v", err)
	}
	ctx := device.New(device.Options{Accelerator: acc})
	t.Cleanup(ctx.Release)
	return New(ctx)
}

func hostDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	ctx := device.New(device.Options{DisableGPU: true})
	t.Cleanup(ctx.Release)
	return New(ctx)
}

// kernelCase computes one result on dev using the named kernel. WGSL
// allows division to be off by a few ulp, so only the other kernels compare
// exactly.
type kernelCase struct {
	kernel string
	exact  bool
	run    func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View
}

func keepView(t *testing.T) func(*tensor.View, error) *tensor.View {
	return func(v *tensor.View, err error) *tensor.View {
		t.Helper()
		require.NoError(t, err)
		t.Cleanup(v.Release)
		return v
	}
}

func ramp(n int, scale, bias float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%17)*scale + bias
	}
	return out
}

var kernelCases = []kernelCase{
	{gpu.KernelAdd, true, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(3*513, 0.5, -2), tensor.Shape{3, 513}, dev)
		b := from(t, d, ramp(513, 0.25, 1), tensor.Shape{513}, dev)
		return keepView(t)(d.Add(a, b))
	}},
	{gpu.KernelMul, true, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(40*30, 0.5, -3), tensor.Shape{40, 30}, dev)
		b := from(t, d, ramp(40, 1.5, 0.5), tensor.Shape{40, 1}, dev)
		return keepView(t)(d.Mul(a, b))
	}},
	{gpu.KernelDiv, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(600, 0.75, -4), tensor.Shape{20, 30}, dev)
		b := from(t, d, ramp(30, 1, -8), tensor.Shape{30}, dev)
		return keepView(t)(d.Div(a, b, true))
	}},
	{gpu.KernelDivScalar, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(1000, 0.3, -1), tensor.Shape{10, 100}, dev)
		at := keepView(t)(a.Transpose(0, 1))
		return keepView(t)(d.DivScalar(at, 3, true))
	}},
	{gpu.KernelDivScalarInPlace, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(700, 0.9, 2), tensor.Shape{7, 100}, dev)
		require.NoError(t, d.DivScalarInPlace(a, 7, true))
		return a
	}},
	{gpu.KernelMatMul, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(33*47, 0.125, -1), tensor.Shape{33, 47}, dev)
		b := from(t, d, ramp(47*29, 0.25, -2), tensor.Shape{47, 29}, dev)
		return keepView(t)(d.MatMul(a, b))
	}},
	{gpu.KernelSum, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(4096, 0.5, -3), tensor.Shape{64, 64}, dev)
		return keepView(t)(d.Sum(a))
	}},
	{gpu.KernelMean, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(4096, 0.5, -3), tensor.Shape{64, 64}, dev)
		return keepView(t)(d.Mean(a))
	}},
	{gpu.KernelSumAxis, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(24*50, 0.5, -1), tensor.Shape{2, 12, 50}, dev)
		return keepView(t)(d.SumAxis(a, 1, false))
	}},
	{gpu.KernelMeanAxis, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(24*50, 0.5, -1), tensor.Shape{2, 12, 50}, dev)
		return keepView(t)(d.MeanAxis(a, -1, true))
	}},
	{gpu.KernelReduceTo, false, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		g := from(t, d, ramp(6*40*5, 0.25, 0), tensor.Shape{6, 40, 5}, dev)
		return keepView(t)(d.ReduceTo(g, tensor.Shape{40, 1}))
	}},
	{gpu.KernelFill, true, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(300, 1, 0), tensor.Shape{10, 30}, dev)
		col := keepView(t)(a.Slice(1, 3, 30, 4))
		require.NoError(t, d.Fill(col, -2.5))
		return a
	}},
	{gpu.KernelCopyStrided, true, func(t *testing.T, d *Dispatcher, dev tensor.Device) *tensor.View {
		a := from(t, d, ramp(4*5*6, 0.5, 1), tensor.Shape{4, 5, 6}, dev)
		p := keepView(t)(a.Permute(2, 0, 1))
		return keepView(t)(d.Contiguous(p))
	}},
}

func TestKernelCasesCoverLibrary(t *testing.T) {
	var names []string
	for _, c := range kernelCases {
		names = append(names, c.kernel)
	}
	assert.ElementsMatch(t, gpu.Kernels, names)
}

func TestWebGPUKernelsMatchHost(t *testing.T) {
	gd := webgpuDispatcher(t)
	hd := hostDispatcher(t)
	for _, c := range kernelCases {
		t.Run(c.kernel, func(t *testing.T) {
			want := read(t, hd, c.run(t, hd, tensor.CPU))

			before := gd.Stats()
			out := c.run(t, gd, tensor.GPU)
			assert.Equal(t, tensor.GPU, out.Device())
			got := read(t, gd, out)
			after := gd.Stats()

			require.Zero(t, after.Fallbacks-before.Fallbacks, "%s fell back to the host", c.kernel)
			require.Greater(t, after.GPUOps, before.GPUOps)
			require.Len(t, got, len(want))
			if c.exact {
				assert.Equal(t, want, got)
				return
			}
			for i := range want {
				tol := 1e-5 * math.Max(1, math.Abs(float64(want[i])))
				assert.InDelta(t, want[i], got[i], tol, "element %d", i)
			}
		})
	}
}
