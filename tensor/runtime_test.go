// Copyright 2025 Orchard ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchard-ml/orchard/internal/device"
	"github.com/orchard-ml/orchard/internal/gpu/gputest"
)

func hostRuntime(t *testing.T, mutate func(*Config)) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DisableGPU = true
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := NewRuntime(cfg)
	require.NoError(t, err)
	t.Cleanup(rt.Release)
	return rt
}

func gpuRuntime(t *testing.T) (*Runtime, *gputest.Accelerator) {
	t.Helper()
	acc := gputest.New()
	cfg := DefaultConfig()
	cfg.Device = "gpu"
	opts := cfg.DeviceOptions()
	opts.Accelerator = acc
	rt, err := newRuntime(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		rt.Release()
		device.Forget(acc)
	})
	return rt, acc
}

func keep(t *testing.T) func(*Tensor, error) *Tensor {
	return func(x *Tensor, err error) *Tensor {
		t.Helper()
		require.NoError(t, err)
		t.Cleanup(x.Release)
		return x
	}
}

func TestHostRuntime(t *testing.T) {
	rt := hostRuntime(t, nil)
	assert.False(t, rt.HasGPU())
	assert.Equal(t, CPU, rt.Device())
	assert.Equal(t, "host", rt.DeviceName())

	a := keep(t)(rt.FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3}, false))
	b := keep(t)(rt.FromSlice([]float32{10, 20, 30}, Shape{3}, false))
	c := keep(t)(rt.Add(a, b))

	vals, err := rt.Values(c)
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, vals)
	assert.Equal(t, Shape{2, 3}, c.Shape())
	assert.Zero(t, rt.Stats().GPUOps)
}

func TestGPURuntimeAutograd(t *testing.T) {
	rt, acc := gpuRuntime(t)
	assert.Equal(t, GPU, rt.Device())
	assert.Equal(t, "gputest", rt.DeviceName())

	a := keep(t)(rt.FromSlice([]float32{1, 2, 3}, Shape{3}, true))
	b := keep(t)(rt.FromSlice([]float32{2, 4, 8}, Shape{3}, true))
	q := keep(t)(rt.Div(a, b))
	y := keep(t)(rt.Sum(q))
	require.NoError(t, rt.Backward(y))

	ga, err := rt.GradValues(a)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 0.25, 0.125}, ga, 1e-6)
	gb, err := rt.GradValues(b)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-0.25, -0.125, -0.046875}, gb, 1e-6)

	assert.Positive(t, acc.Dispatches())
	assert.Zero(t, rt.Stats().Fallbacks)
}

func TestGPURequiredButDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "gpu"
	opts := cfg.DeviceOptions()
	opts.DisableGPU = true
	_, err := newRuntime(cfg, opts)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
	assert.Equal(t, Retryable, Classify(err))
}

func TestInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "tpu"
	_, err := NewRuntime(cfg)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestDivisionModes(t *testing.T) {
	safe := hostRuntime(t, nil)
	a := keep(t)(safe.FromSlice([]float32{1, 4}, Shape{2}, false))
	b := keep(t)(safe.FromSlice([]float32{0, 2}, Shape{2}, false))
	q := keep(t)(safe.Div(a, b))
	vals, err := safe.Values(q)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2}, vals)

	strict := hostRuntime(t, func(c *Config) { c.StrictDivision = true })
	a2 := keep(t)(strict.FromSlice([]float32{1, 4}, Shape{2}, false))
	b2 := keep(t)(strict.FromSlice([]float32{0, 2}, Shape{2}, false))
	_, err = strict.Div(a2, b2)
	assert.True(t, errors.Is(err, ErrDivisionByZero))
	assert.Equal(t, HardFail, Classify(err))

	_, err = strict.DivScalar(a2, 0)
	assert.True(t, errors.Is(err, ErrDivisionByZero))
}

func TestSliceMutationIsVisible(t *testing.T) {
	rt := hostRuntime(t, nil)
	a := keep(t)(rt.FromSlice([]float32{0, 1, 2, 3, 4, 5}, Shape{2, 3}, false))
	s := keep(t)(rt.Slice(a, 1, 0, 3, 2))
	assert.Equal(t, Shape{2, 2}, s.Shape())
	assert.False(t, s.RequiresGrad())

	vals, err := rt.Values(s)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 3, 5}, vals)

	require.NoError(t, rt.DivScalarInPlace(s, 2))
	vals, err = rt.Values(a)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 1, 1.5, 4, 2.5}, vals)
}

func TestToSameDeviceShares(t *testing.T) {
	rt := hostRuntime(t, nil)
	a := keep(t)(rt.FromSlice([]float32{1, 2}, Shape{2}, false))
	b := keep(t)(rt.To(a, CPU))
	assert.True(t, b.View().IsAliasOf(a.View()))
	assert.Equal(t, a.View().DataPointer(), b.View().DataPointer())
}

func TestCloneAndDetach(t *testing.T) {
	rt := hostRuntime(t, nil)
	a := keep(t)(rt.FromSlice([]float32{2, 4}, Shape{2}, true))

	c := keep(t)(rt.Clone(a))
	assert.False(t, c.View().IsAliasOf(a.View()))
	d := keep(t)(a.Detach())
	assert.True(t, d.View().IsAliasOf(a.View()))

	require.NoError(t, rt.DivScalarInPlace(d, 2))
	av, err := rt.Values(a)
	require.NoError(t, err)
	cv, err := rt.Values(c)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, av)
	assert.Equal(t, []float32{2, 4}, cv)
}

func TestWrapAlignedData(t *testing.T) {
	rt := hostRuntime(t, nil)
	data := AlignedFloat32s(4)
	copy(data, []float32{1, 2, 3, 4})
	released := false

	w, err := rt.Wrap(data, Shape{2, 2}, false, func() { released = true })
	require.NoError(t, err)
	m := keep(t)(rt.MatMul(w, w))
	vals, err := rt.Values(m)
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 10, 15, 22}, vals)

	w.Release()
	assert.True(t, released)

	_, err = rt.Wrap(data[1:], Shape{3}, false, nil)
	assert.True(t, errors.Is(err, ErrMisaligned))
	assert.Equal(t, SoftFail, Classify(err))
}

func TestGradValuesWithoutBackward(t *testing.T) {
	rt := hostRuntime(t, nil)
	a := keep(t)(rt.FromSlice([]float32{1}, Shape{1}, true))
	_, err := rt.GradValues(a)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestEmptyZerosLikeAndFill(t *testing.T) {
	host := hostRuntime(t, nil)
	gpuRT, _ := gpuRuntime(t)
	for _, rt := range []*Runtime{host, gpuRT} {
		t.Run(rt.Device().String(), func(t *testing.T) {
			e := keep(t)(rt.Empty(Shape{2, 3}, false))
			assert.Equal(t, Shape{2, 3}, e.Shape())
			assert.Equal(t, rt.Device(), e.Device())

			require.NoError(t, rt.Fill(e, 7))
			vals, err := rt.Values(e)
			require.NoError(t, err)
			assert.Equal(t, []float32{7, 7, 7, 7, 7, 7}, vals)

			et := keep(t)(rt.Transpose(e, 0, 1))
			z := keep(t)(rt.ZerosLike(et, true))
			assert.Equal(t, Shape{3, 2}, z.Shape())
			assert.True(t, z.RequiresGrad())
			vals, err = rt.Values(z)
			require.NoError(t, err)
			assert.Equal(t, []float32{0, 0, 0, 0, 0, 0}, vals)

			col := keep(t)(rt.Slice(e, 1, 1, 2, 1))
			require.NoError(t, rt.Fill(col, -1))
			vals, err = rt.Values(e)
			require.NoError(t, err)
			assert.Equal(t, []float32{7, -1, 7, 7, -1, 7}, vals)

			err = rt.Fill(z, 1)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
		})
	}
}
