package webgpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/gpu"
)

func openOrSkip(t *testing.T) gpu.Accelerator {
	t.Helper()
	acc, err := Open()
	if err != nil {
		if !errors.Is(err, gpu.ErrDeviceUnavailable) {
			t.Fatalf("Open error does not wrap ErrDeviceUnavailable: %v", err)
		}
		t.Skipf("WebGPU not available: %v", err)
	}
	t.Cleanup(acc.Release)
	return acc
}

func TestIsAvailableMatchesOpen(t *testing.T) {
	acc, err := Open()
	if err == nil {
		acc.Release()
	}
	if IsAvailable() != (err == nil) {
		t.Fatalf("IsAvailable = %v, Open err = %v", IsAvailable(), err)
	}
}

func floatsToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	acc := openOrSkip(t)
	q, err := acc.NewQueue()
	if err != nil {
		t.Fatal(err)
	}
	defer q.Release()

	in := []float32{1, -2, 3.5, 4}
	buf, err := acc.NewBuffer(gpu.BufferDesc{Size: len(in) * 4})
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	if err := q.Upload(buf, 0, floatsToBytes(in)); err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, len(in)*4)
	if err := q.Download(raw, buf, 0); err != nil {
		t.Fatal(err)
	}
	for i, v := range bytesToFloats(raw) {
		if v != in[i] {
			t.Fatalf("[%d] = %v, want %v", i, v, in[i])
		}
	}
}

func TestBuiltinKernelsCompile(t *testing.T) {
	acc := openOrSkip(t)
	reg := gpu.NewPipelineRegistry(acc, gpu.BuiltinSource{})
	defer reg.Release()
	for _, name := range gpu.Kernels {
		if _, err := reg.Get(name); err != nil {
			t.Errorf("compile %s: %v", name, err)
		}
	}
}

func TestBroadcastAddKernel(t *testing.T) {
	acc := openOrSkip(t)
	reg := gpu.NewPipelineRegistry(acc, nil)
	defer reg.Release()
	p, err := reg.Get(gpu.KernelAdd)
	if err != nil {
		t.Fatal(err)
	}
	q, err := acc.NewQueue()
	if err != nil {
		t.Fatal(err)
	}
	defer q.Release()

	upload := func(vals []float32) gpu.Buffer {
		b, err := acc.NewBuffer(gpu.BufferDesc{Size: len(vals) * 4})
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Upload(b, 0, floatsToBytes(vals)); err != nil {
			t.Fatal(err)
		}
		return b
	}
	a := upload([]float32{1, 2, 3})
	defer a.Release()
	b := upload([]float32{10, 20})
	defer b.Release()
	out := upload(make([]float32, 6))
	defer out.Release()

	params := gpu.Params{N: 6, Rank: 2}
	gpu.SetInts(&params.Shape, []int{2, 3})
	gpu.SetInts(&params.StrideA, []int{0, 1})
	gpu.SetInts(&params.StrideB, []int{1, 0})
	if err := q.Dispatch(p, []gpu.Buffer{a, b, out}, params, 6); err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, 24)
	if err := q.Download(raw, out, 0); err != nil {
		t.Fatal(err)
	}
	want := []float32{11, 12, 13, 21, 22, 23}
	for i, v := range bytesToFloats(raw) {
		if v != want[i] {
			t.Fatalf("got %v, want %v", bytesToFloats(raw), want)
		}
	}
}
