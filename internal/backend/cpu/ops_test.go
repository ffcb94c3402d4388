package cpu

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func equal(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("[%d] = %v, want %v (got %v)", i, got[i], want[i], got)
		}
	}
}

func TestBinaryBroadcast(t *testing.T) {
	tests := []struct {
		name  string
		op    BinaryOp
		shape []int
		a, b  Operand
		want  []float32
	}{
		{
			name:  "scalar vs vector add",
			op:    OpAdd,
			shape: []int{4},
			a:     Operand{Data: []float32{10}, Strides: []int{0}},
			b:     Dense(seq(4), []int{4}),
			want:  []float32{11, 12, 13, 14},
		},
		{
			name:  "row vs matrix mul",
			op:    OpMul,
			shape: []int{2, 3},
			a:     Operand{Data: []float32{1, 2, 3}, Strides: []int{0, 1}},
			b:     Dense(seq(6), []int{2, 3}),
			want:  []float32{1, 4, 9, 4, 10, 18},
		},
		{
			name:  "column vs row div",
			op:    OpDiv,
			shape: []int{2, 2},
			a:     Operand{Data: []float32{2, 8}, Strides: []int{1, 0}},
			b:     Operand{Data: []float32{1, 2}, Strides: []int{0, 1}},
			want:  []float32{2, 1, 8, 4},
		},
		{
			name:  "offset operand",
			op:    OpAdd,
			shape: []int{2},
			a:     Operand{Data: []float32{0, 0, 5, 6}, Strides: []int{1}, Offset: 2},
			b:     Dense([]float32{1, 1}, []int{2}),
			want:  []float32{6, 7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float32, len(tt.want))
			Binary(tt.op, out, tt.shape, tt.a, tt.b, false)
			equal(t, out, tt.want)
		})
	}
}

func TestSafeDivision(t *testing.T) {
	out := make([]float32, 3)
	Binary(OpDiv, out, []int{3},
		Dense([]float32{1, 2, 3}, []int{3}),
		Dense([]float32{0, 1, 2}, []int{3}), true)
	equal(t, out, []float32{0, 2, 1.5})

	// Zero divisor first must not poison later elements under broadcast.
	out = make([]float32, 4)
	Binary(OpDiv, out, []int{2, 2},
		Operand{Data: []float32{4, 6}, Strides: []int{0, 1}},
		Operand{Data: []float32{0, 2}, Strides: []int{1, 0}}, true)
	equal(t, out, []float32{0, 0, 2, 3})
}

func TestUnsafeDivisionPropagatesInf(t *testing.T) {
	out := make([]float32, 1)
	Binary(OpDiv, out, []int{1}, Dense([]float32{1}, []int{1}), Dense([]float32{0}, []int{1}), false)
	if !math.IsInf(float64(out[0]), 1) {
		t.Fatalf("1/0 = %v, want +Inf", out[0])
	}
}

func TestDivScalar(t *testing.T) {
	out := make([]float32, 3)
	DivScalar(out, []int{3}, Dense([]float32{2, 4, 6}, []int{3}), 2, false)
	equal(t, out, []float32{1, 2, 3})

	DivScalar(out, []int{3}, Dense([]float32{2, 4, 6}, []int{3}), 0, true)
	equal(t, out, []float32{0, 0, 0})
}

func TestDivScalarInPlaceStrided(t *testing.T) {
	data := []float32{2, 100, 4, 100, 6}
	DivScalarInPlace([]int{3}, Operand{Data: data, Strides: []int{2}}, 2, false)
	equal(t, data, []float32{1, 100, 2, 100, 3})
}

func TestFillAndGather(t *testing.T) {
	data := make([]float32, 6)
	// Column 1 of a 2x3 matrix.
	col := Operand{Data: data, Strides: []int{3}, Offset: 1}
	Fill([]int{2}, col, 7)
	equal(t, data, []float32{0, 7, 0, 0, 7, 0})

	// Transposed gather.
	m := Dense(seq(6), []int{2, 3})
	out := make([]float32, 6)
	Gather(out, []int{3, 2}, Operand{Data: m.Data, Strides: []int{1, 3}})
	equal(t, out, []float32{1, 4, 2, 5, 3, 6})
}

func TestScatter(t *testing.T) {
	data := make([]float32, 4)
	Scatter(Operand{Data: data, Strides: []int{2}, Offset: 1}, []int{2}, []float32{8, 9})
	equal(t, data, []float32{0, 8, 0, 9})
}

func TestReductions(t *testing.T) {
	shape := []int{2, 3}
	a := Dense(seq(6), shape)

	if got := Sum(shape, a); got != 21 {
		t.Errorf("Sum = %v, want 21", got)
	}
	if got := Mean(shape, a); got != 3.5 {
		t.Errorf("Mean = %v, want 3.5", got)
	}

	rows := make([]float32, 2)
	SumAxis(rows, shape, 1, a)
	equal(t, rows, []float32{6, 15})

	cols := make([]float32, 3)
	MeanAxis(cols, shape, 0, a)
	equal(t, cols, []float32{2.5, 3.5, 4.5})
}

func TestReduceTo(t *testing.T) {
	g := Dense(seq(6), []int{2, 3})

	row := make([]float32, 3)
	ReduceTo(row, []int{2, 3}, []int{1, 3}, g)
	equal(t, row, []float32{5, 7, 9})

	col := make([]float32, 2)
	ReduceTo(col, []int{2, 3}, []int{2, 1}, g)
	equal(t, col, []float32{6, 15})

	all := make([]float32, 1)
	ReduceTo(all, []int{2, 3}, []int{1, 1}, g)
	equal(t, all, []float32{21})
}

func TestMatMulMatchesBLAS(t *testing.T) {
	m, k, n := 3, 4, 2
	a := seq(m * k)
	b := seq(k * n)

	out := make([]float32, m*n)
	MatMul(out, m, k, n, Operand{Data: a, Strides: []int{k, 1}}, Operand{Data: b, Strides: []int{n, 1}})

	ref := make([]float32, m*n)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0, blas32.General{Rows: m, Cols: n, Stride: n, Data: ref})
	equal(t, out, ref)
}

func TestMatMulTransposedOperand(t *testing.T) {
	// a stored as [k,m], read as its transpose.
	at := []float32{1, 3, 2, 4} // a = [[1,2],[3,4]]
	b := []float32{1, 0, 0, 1}
	out := make([]float32, 4)
	MatMul(out, 2, 2, 2, Operand{Data: at, Strides: []int{1, 2}}, Operand{Data: b, Strides: []int{2, 1}})
	equal(t, out, []float32{1, 2, 3, 4})
}

func TestAddVectorsAliasing(t *testing.T) {
	a := []float32{1, 2, 3}
	AddVectors(a, a, []float32{1, 1, 1})
	equal(t, a, []float32{2, 3, 4})
}

func TestMatMulLargeIsDeterministic(t *testing.T) {
	m, k, n := 256, 64, 64
	a := make([]float32, m*k)
	b := make([]float32, k*n)
	for i := range a {
		a[i] = float32(i%7) * 0.1
	}
	for i := range b {
		b[i] = float32(i%5) * 0.3
	}

	out := make([]float32, m*n)
	MatMul(out, m, k, n, Operand{Data: a, Strides: []int{k, 1}}, Operand{Data: b, Strides: []int{n, 1}})

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var acc float32
			for p := 0; p < k; p++ {
				acc += float32(a[i*k+p] * b[p*n+j])
			}
			if out[i*n+j] != acc {
				t.Fatalf("out[%d,%d] = %v, want %v", i, j, out[i*n+j], acc)
			}
		}
	}
}
