package cpu

import "github.com/orchard-ml/orchard/internal/parallel"

// MatMul computes [m,k] @ [k,n] into the dense out. a and b carry rank-2
// strides, so transposed and sliced operands are read in place. Large
// products are split by output rows; each element is still summed over k
// in order.
func MatMul(out []float32, m, k, n int, a, b Operand) {
	parallel.Rows(m, n*k, parallel.Default, func(r0, r1 int) {
		for i := r0 * n; i < r1*n; i++ {
			row, col := i/n, i%n
			var acc float32
			for p := 0; p < k; p++ {
				av := a.Data[a.Offset+row*a.Strides[0]+p*a.Strides[1]]
				bv := b.Data[b.Offset+p*b.Strides[0]+col*b.Strides[1]]
				acc += float32(av * bv)
			}
			out[i] = acc
		}
	})
}
