package main

import (
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/tensor"
)

// scope releases every tensor it tracked.
type scope []*tensor.Tensor

func (s *scope) keep(t *tensor.Tensor, err error) (*tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	*s = append(*s, t)
	return t, nil
}

func (s *scope) release() {
	for _, t := range *s {
		t.Release()
	}
	*s = nil
}

type check struct {
	name string
	run  func(rt *tensor.Runtime, s *scope) error
}

var checks = []check{
	{"broadcast add", checkBroadcast},
	{"safe division", checkSafeDivision},
	{"matmul", checkMatMul},
	{"axis mean", checkAxisMean},
	{"division gradients", checkDivisionGradients},
	{"in-place gradients", checkInPlaceGradients},
	{"device round trip", checkRoundTrip},
}

// selftest runs every check on the host and, when available, the GPU.
func selftest(w io.Writer, cfg tensor.Config) error {
	cfg.StrictDivision = false
	failed := 0
	for _, dev := range []string{"cpu", "gpu"} {
		c := cfg
		c.Device = dev
		rt, err := tensor.NewRuntime(c)
		if err != nil {
			fmt.Fprintf(w, "%s: skipped (%v)\n", dev, err)
			continue
		}
		fmt.Fprintf(w, "%s (%s):\n", dev, rt.DeviceName())
		failed += runChecks(w, rt)
		st := rt.Stats()
		fmt.Fprintf(w, "  ops: host=%d gpu=%d fallbacks=%d\n", st.HostOps, st.GPUOps, st.Fallbacks)
		rt.Release()
	}
	if failed > 0 {
		return errors.Errorf("%d checks failed", failed)
	}
	fmt.Fprintln(w, "all checks passed")
	return nil
}

func runChecks(w io.Writer, rt *tensor.Runtime) int {
	failed := 0
	for _, c := range checks {
		var s scope
		err := c.run(rt, &s)
		s.release()
		if err != nil {
			failed++
			fmt.Fprintf(w, "  FAIL %-20s %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(w, "  ok   %s\n", c.name)
	}
	return failed
}

func expect(rt *tensor.Runtime, t *tensor.Tensor, want []float32) error {
	got, err := rt.Values(t)
	if err != nil {
		return err
	}
	return compare(got, want)
}

func expectGrad(rt *tensor.Runtime, t *tensor.Tensor, want []float32) error {
	got, err := rt.GradValues(t)
	if err != nil {
		return err
	}
	return compare(got, want)
}

func compare(got, want []float32) error {
	if len(got) != len(want) {
		return errors.Errorf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			return errors.Errorf("element %d = %g, want %g", i, got[i], want[i])
		}
	}
	return nil
}

func checkBroadcast(rt *tensor.Runtime, s *scope) error {
	a, err := s.keep(rt.FromSlice([]float32{1, 2, 3}, tensor.Shape{3, 1}, false))
	if err != nil {
		return err
	}
	b, err := s.keep(rt.FromSlice([]float32{10, 20, 30, 40}, tensor.Shape{1, 4}, false))
	if err != nil {
		return err
	}
	c, err := s.keep(rt.Add(a, b))
	if err != nil {
		return err
	}
	return expect(rt, c, []float32{11, 21, 31, 41, 12, 22, 32, 42, 13, 23, 33, 43})
}

func checkSafeDivision(rt *tensor.Runtime, s *scope) error {
	a, err := s.keep(rt.FromSlice([]float32{1, 4, 3}, tensor.Shape{3}, false))
	if err != nil {
		return err
	}
	b, err := s.keep(rt.FromSlice([]float32{0, 2, 2}, tensor.Shape{3}, false))
	if err != nil {
		return err
	}
	q, err := s.keep(rt.Div(a, b))
	if err != nil {
		return err
	}
	return expect(rt, q, []float32{0, 2, 1.5})
}

func checkMatMul(rt *tensor.Runtime, s *scope) error {
	a, err := s.keep(rt.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, false))
	if err != nil {
		return err
	}
	b, err := s.keep(rt.FromSlice([]float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2}, false))
	if err != nil {
		return err
	}
	c, err := s.keep(rt.MatMul(a, b))
	if err != nil {
		return err
	}
	return expect(rt, c, []float32{58, 64, 139, 154})
}

func checkAxisMean(rt *tensor.Runtime, s *scope) error {
	a, err := s.keep(rt.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, false))
	if err != nil {
		return err
	}
	m, err := s.keep(rt.MeanAxis(a, -1, false))
	if err != nil {
		return err
	}
	return expect(rt, m, []float32{2, 5})
}

func checkDivisionGradients(rt *tensor.Runtime, s *scope) error {
	a, err := s.keep(rt.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, true))
	if err != nil {
		return err
	}
	b, err := s.keep(rt.FromSlice([]float32{2, 4, 8}, tensor.Shape{3}, true))
	if err != nil {
		return err
	}
	q, err := s.keep(rt.Div(a, b))
	if err != nil {
		return err
	}
	y, err := s.keep(rt.Sum(q))
	if err != nil {
		return err
	}
	if err := rt.Backward(y); err != nil {
		return err
	}
	if err := expectGrad(rt, a, []float32{0.5, 0.25, 0.125}); err != nil {
		return errors.Wrap(err, "d/da")
	}
	return errors.Wrap(expectGrad(rt, b, []float32{-0.25, -0.125, -0.046875}), "d/db")
}

func checkInPlaceGradients(rt *tensor.Runtime, s *scope) error {
	a, err := s.keep(rt.FromSlice([]float32{2, 4}, tensor.Shape{2}, true))
	if err != nil {
		return err
	}
	for range 3 {
		if err := rt.DivScalarInPlace(a, 2); err != nil {
			return err
		}
	}
	if err := rt.Backward(a); err != nil {
		return err
	}
	return expectGrad(rt, a, []float32{0.125, 0.125})
}

func checkRoundTrip(rt *tensor.Runtime, s *scope) error {
	if !rt.HasGPU() {
		return nil
	}
	data := make([]float32, 4096)
	for i := range data {
		data[i] = float32(i) * 0.5
	}
	a, err := s.keep(rt.FromSliceOn(data, tensor.Shape{64, 64}, tensor.CPU, false))
	if err != nil {
		return err
	}
	at, err := s.keep(rt.Transpose(a, 0, 1))
	if err != nil {
		return err
	}
	g, err := s.keep(rt.To(at, tensor.GPU))
	if err != nil {
		return err
	}
	h, err := s.keep(rt.To(g, tensor.CPU))
	if err != nil {
		return err
	}
	want, err := rt.Values(at)
	if err != nil {
		return err
	}
	got, err := rt.Values(h)
	if err != nil {
		return err
	}
	for i := range want {
		if math.Float32bits(got[i]) != math.Float32bits(want[i]) {
			return errors.Errorf("element %d = %g, want %g", i, got[i], want[i])
		}
	}
	return nil
}
