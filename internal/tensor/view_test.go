package tensor

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func filled(t *testing.T, shape Shape) *View {
	t.Helper()
	v, err := Empty(HostAllocator{}, shape, Float32, CPU)
	if err != nil {
		t.Fatal(err)
	}
	s := v.Storage().Floats()
	for i := range s {
		s[i] = float32(i)
	}
	t.Cleanup(v.Release)
	return v
}

func values(t *testing.T, v *View) []float32 {
	t.Helper()
	out, err := v.Float32s()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func sameFloats(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEmptyValidatesShape(t *testing.T) {
	tests := []Shape{
		{0},
		{2, -1},
		{1, 1, 1, 1, 1, 1, 1, 1, 1},
	}
	for _, shape := range tests {
		v, err := Empty(HostAllocator{}, shape, Float32, CPU)
		if !errors.Is(err, ErrShapeMismatch) || v.Valid() {
			t.Errorf("Empty(%v) = %v, %v; want invalid tensor", shape, v, err)
		}
	}
}

func TestScalarShape(t *testing.T) {
	v := filled(t, Shape{})
	if v.NumElements() != 1 || v.Rank() != 0 || !v.IsContiguous() {
		t.Fatalf("scalar: n=%d rank=%d", v.NumElements(), v.Rank())
	}
	got, err := v.At()
	if err != nil || got != 0 {
		t.Fatalf("At() = %v, %v", got, err)
	}
}

func TestViewReshape(t *testing.T) {
	v := filled(t, Shape{2, 3})
	r, err := v.View(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()
	if !r.IsAliasOf(v) || !r.Shape().Equal(Shape{3, 2}) {
		t.Fatalf("reshape: %v", r)
	}
	if v.Storage().RefCount() != 2 {
		t.Fatalf("refs = %d, want 2", v.Storage().RefCount())
	}

	if _, err := v.View(4, 2); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("count mismatch err = %v", err)
	}
	if _, err := v.View(1, 1, 1, 1, 1, 1, 1, 2, 3); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("rank 9 err = %v", err)
	}

	tr, _ := v.Transpose(0, 1)
	defer tr.Release()
	if _, err := tr.View(6); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("non-contiguous view err = %v", err)
	}
}

func TestSlice(t *testing.T) {
	v := filled(t, Shape{2, 6})

	s, err := v.Slice(1, 1, 6, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()
	if !s.Shape().Equal(Shape{2, 3}) {
		t.Fatalf("shape = %v", s.Shape())
	}
	if st := s.Strides(); st[0] != 6 || st[1] != 2 || s.Offset() != 1 {
		t.Fatalf("strides = %v offset = %d", st, s.Offset())
	}
	sameFloats(t, values(t, s), []float32{1, 3, 5, 7, 9, 11})
	if s.IsContiguous() {
		t.Fatal("strided slice reported contiguous")
	}

	// Writes through the slice land in the source.
	if err := s.SetAt(-1, 1, 2); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.At(1, 5); got != -1 {
		t.Fatalf("source (1,5) = %v, want -1", got)
	}

	bad := []struct{ dim, start, end, step int }{
		{2, 0, 1, 1},
		{1, -1, 2, 1},
		{1, 0, 7, 1},
		{1, 3, 3, 1},
		{1, 0, 2, 0},
	}
	for _, b := range bad {
		if r, err := v.Slice(b.dim, b.start, b.end, b.step); !errors.Is(err, ErrInvalidArgument) || r.Valid() {
			t.Errorf("Slice%v err = %v", b, err)
		}
	}
}

func TestTransposePermute(t *testing.T) {
	v := filled(t, Shape{2, 3})
	tr, err := v.Transpose(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Release()
	sameFloats(t, values(t, tr), []float32{0, 3, 1, 4, 2, 5})

	c := filled(t, Shape{2, 3, 4})
	p, err := c.Permute(2, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()
	if !p.Shape().Equal(Shape{4, 2, 3}) {
		t.Fatalf("permute shape = %v", p.Shape())
	}
	if got, _ := p.At(3, 1, 2); got != 23 {
		t.Fatalf("permute (3,1,2) = %v, want 23", got)
	}
	if _, err := c.Permute(0, 0, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("duplicate axes err = %v", err)
	}
}

func TestExpand(t *testing.T) {
	v := filled(t, Shape{3, 1})
	e, err := v.Expand(Shape{2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Release()
	if st := e.Strides(); st[0] != 0 || st[2] != 0 {
		t.Fatalf("strides = %v", st)
	}
	if got, _ := e.At(1, 2, 3); got != 2 {
		t.Fatalf("At = %v, want 2", got)
	}
	if _, err := v.Expand(Shape{3, 2, 4}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("bad expand err = %v", err)
	}
}

func TestBroadcastStrides(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Shape
		want   Shape
		wantA  []int
		wantB  []int
		failed bool
	}{
		{name: "scalar-like", a: Shape{1}, b: Shape{4}, want: Shape{4}, wantA: []int{0}, wantB: []int{1}},
		{name: "row", a: Shape{1, 3}, b: Shape{2, 3}, want: Shape{2, 3}, wantA: []int{0, 1}, wantB: []int{3, 1}},
		{name: "rank mix", a: Shape{2, 1, 4}, b: Shape{3, 1}, want: Shape{2, 3, 4}, wantA: []int{4, 0, 1}, wantB: []int{0, 1, 0}},
		{name: "mismatch", a: Shape{2, 3}, b: Shape{4}, failed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BroadcastStrides(tt.a, tt.a.ComputeStrides(), tt.b, tt.b.ComputeStrides())
			if tt.failed {
				if !errors.Is(err, ErrShapeMismatch) {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !got.Shape.Equal(tt.want) {
				t.Fatalf("shape = %v, want %v", got.Shape, tt.want)
			}
			for i := range tt.wantA {
				if got.StridesA[i] != tt.wantA[i] || got.StridesB[i] != tt.wantB[i] {
					t.Fatalf("strides = %v/%v, want %v/%v", got.StridesA, got.StridesB, tt.wantA, tt.wantB)
				}
			}
		})
	}
}

func TestReleaseInvalidates(t *testing.T) {
	v, err := Empty(HostAllocator{}, Shape{2}, Float32, CPU)
	if err != nil {
		t.Fatal(err)
	}
	alias, _ := v.Alias()
	v.Release()
	if v.Valid() {
		t.Fatal("released view still valid")
	}
	if _, err := v.Slice(0, 0, 1, 1); !errors.Is(err, ErrReleased) {
		t.Fatalf("derive from released err = %v", err)
	}
	if !alias.Valid() || alias.Storage().Freed() {
		t.Fatal("alias lost its storage")
	}
	alias.Release()
}

func TestString(t *testing.T) {
	v := filled(t, Shape{2})
	if s := v.String(); !strings.Contains(s, "data=[0 1]") || !strings.Contains(s, "CPU") {
		t.Fatalf("String() = %q", s)
	}
	var nilView *View
	if nilView.String() != "Tensor(invalid)" {
		t.Fatal("nil view String")
	}
}

func TestNormalizeAxis(t *testing.T) {
	if a, err := NormalizeAxis(-1, 3); err != nil || a != 2 {
		t.Fatalf("NormalizeAxis(-1,3) = %d, %v", a, err)
	}
	if _, err := NormalizeAxis(3, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	if got := ReducedShape(Shape{2, 3, 4}, 1, false); !got.Equal(Shape{2, 4}) {
		t.Fatalf("ReducedShape = %v", got)
	}
	if got := ReducedShape(Shape{2, 3, 4}, 1, true); !got.Equal(Shape{2, 1, 4}) {
		t.Fatalf("ReducedShape keep = %v", got)
	}
}
