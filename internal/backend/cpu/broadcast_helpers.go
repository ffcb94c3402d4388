// Package cpu implements the host kernels.
//
// Every kernel addresses its operands per output element from the element's
// row-major linear index. No state is carried between elements, so a masked
// element (safe division) never influences its neighbours, and the GPU
// kernels in internal/gpu follow the same indexing and summation order.
package cpu

// Operand addresses a float32 region through strides and an element offset.
// Strides may be zero on broadcast axes.
type Operand struct {
	Data    []float32
	Strides []int
	Offset  int
}

// Dense returns an operand over contiguous row-major data of shape.
func Dense(data []float32, shape []int) Operand {
	return Operand{Data: data, Strides: rowMajor(shape)}
}

// address maps the linear index over shape to an element index of op.
func address(linear int, shape []int, op Operand) int {
	idx := op.Offset
	for d := len(shape) - 1; d >= 0; d-- {
		e := shape[d]
		idx += (linear % e) * op.Strides[d]
		linear /= e
	}
	return idx
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func rowMajor(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}
	return strides
}

// isDense reports whether op walks shape contiguously from its offset.
func isDense(shape []int, op Operand) bool {
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		if shape[d] != 1 && op.Strides[d] != acc {
			return false
		}
		acc *= shape[d]
	}
	return true
}
