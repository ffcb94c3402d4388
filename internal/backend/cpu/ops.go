package cpu

import "gonum.org/v1/gonum/blas/blas32"

// BinaryOp selects an elementwise binary kernel.
type BinaryOp int

// Elementwise binary operations.
const (
	OpAdd BinaryOp = iota
	OpMul
	OpDiv
)

// String returns the kernel name of op.
func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	default:
		return "unknown"
	}
}

// Binary writes op(a, b) over shape into the dense out. a and b carry
// broadcast strides relative to shape. With safe set, division writes 0
// wherever the divisor is 0.
func Binary(op BinaryOp, out []float32, shape []int, a, b Operand, safe bool) {
	n := numElements(shape)
	if op == OpAdd && isDense(shape, a) && isDense(shape, b) {
		AddVectors(out[:n], a.Data[a.Offset:a.Offset+n], b.Data[b.Offset:b.Offset+n])
		return
	}
	for i := 0; i < n; i++ {
		x := a.Data[address(i, shape, a)]
		y := b.Data[address(i, shape, b)]
		switch op {
		case OpAdd:
			out[i] = x + y
		case OpMul:
			out[i] = x * y
		case OpDiv:
			if safe && y == 0 {
				out[i] = 0
			} else {
				out[i] = x / y
			}
		}
	}
}

// AddVectors writes a + b into dst through the BLAS saxpy primitive.
// dst may alias a.
func AddVectors(dst, a, b []float32) {
	if len(dst) == 0 {
		return
	}
	copy(dst, a)
	blas32.Axpy(1,
		blas32.Vector{N: len(b), Inc: 1, Data: b},
		blas32.Vector{N: len(dst), Inc: 1, Data: dst},
	)
}

// DivScalar writes a / s over shape into the dense out. With safe set and s
// equal to 0, the output is all zeros.
func DivScalar(out []float32, shape []int, a Operand, s float32, safe bool) {
	n := numElements(shape)
	if safe && s == 0 {
		clear(out[:n])
		return
	}
	for i := 0; i < n; i++ {
		out[i] = a.Data[address(i, shape, a)] / s
	}
}

// DivScalarInPlace divides the strided region a by s.
func DivScalarInPlace(shape []int, a Operand, s float32, safe bool) {
	n := numElements(shape)
	for i := 0; i < n; i++ {
		idx := address(i, shape, a)
		if safe && s == 0 {
			a.Data[idx] = 0
		} else {
			a.Data[idx] /= s
		}
	}
}

// Fill writes v to every element of the strided region a.
func Fill(shape []int, a Operand, v float32) {
	n := numElements(shape)
	for i := 0; i < n; i++ {
		a.Data[address(i, shape, a)] = v
	}
}

// Gather copies the strided region a into the dense out in row-major order.
func Gather(out []float32, shape []int, a Operand) {
	n := numElements(shape)
	if isDense(shape, a) {
		copy(out[:n], a.Data[a.Offset:a.Offset+n])
		return
	}
	for i := 0; i < n; i++ {
		out[i] = a.Data[address(i, shape, a)]
	}
}

// Scatter copies the dense src into the strided region dst.
func Scatter(dst Operand, shape []int, src []float32) {
	n := numElements(shape)
	for i := 0; i < n; i++ {
		dst.Data[address(i, shape, dst)] = src[i]
	}
}
