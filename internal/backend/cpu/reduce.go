package cpu

// Sum adds every element of a in row-major order.
func Sum(shape []int, a Operand) float32 {
	n := numElements(shape)
	var acc float32
	for j := 0; j < n; j++ {
		acc += a.Data[address(j, shape, a)]
	}
	return acc
}

// Mean is Sum divided by the element count.
func Mean(shape []int, a Operand) float32 {
	return Sum(shape, a) / float32(numElements(shape))
}

// SumAxis reduces a along axis. out is dense over shape with the axis
// removed (or kept with extent 1; the element order is the same).
func SumAxis(out []float32, shape []int, axis int, a Operand) {
	reduceAxis(out, shape, axis, a, false)
}

// MeanAxis is SumAxis divided by the axis length.
func MeanAxis(out []float32, shape []int, axis int, a Operand) {
	reduceAxis(out, shape, axis, a, true)
}

func reduceAxis(out []float32, shape []int, axis int, a Operand, mean bool) {
	extent := shape[axis]
	step := a.Strides[axis]
	n := numElements(shape) / extent
	for i := 0; i < n; i++ {
		rem := i
		base := a.Offset
		for d := len(shape) - 1; d >= 0; d-- {
			if d == axis {
				continue
			}
			e := shape[d]
			base += (rem % e) * a.Strides[d]
			rem /= e
		}
		var acc float32
		for j := 0; j < extent; j++ {
			acc += a.Data[base+j*step]
		}
		if mean {
			acc /= float32(extent)
		}
		out[i] = acc
	}
}

// ReduceTo sums the gradient g (shape gshape) down to target, which must be
// left-padded with 1s to len(gshape). Axes where target is 1 and gshape is
// larger are summed; out is dense over target.
func ReduceTo(out []float32, gshape, target []int, g Operand) {
	total := 1
	for d := range gshape {
		if target[d] == 1 && gshape[d] > 1 {
			total *= gshape[d]
		}
	}
	n := numElements(target)
	for i := 0; i < n; i++ {
		var acc float32
		for k := 0; k < total; k++ {
			rem, jr, idx := k, i, g.Offset
			for d := len(gshape) - 1; d >= 0; d-- {
				te, ge := target[d], gshape[d]
				c := jr % te
				jr /= te
				if te == 1 && ge > 1 {
					c = rem % ge
					rem /= ge
				}
				idx += c * g.Strides[d]
			}
			acc += g.Data[idx]
		}
		out[i] = acc
	}
}
