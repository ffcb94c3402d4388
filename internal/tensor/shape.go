package tensor

// MaxRank is the largest supported number of dimensions.
const MaxRank = 8

// Shape represents the dimensions of a tensor. The empty shape is a scalar.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks rank and that every dimension is positive.
func (s Shape) Validate() error {
	if len(s) > MaxRank {
		return shapef("rank %d exceeds %d", len(s), MaxRank)
	}
	for i, dim := range s {
		if dim <= 0 {
			return shapef("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i]
	}
	return strides
}

// PadLeft returns s left-padded with 1s to rank.
func (s Shape) PadLeft(rank int) Shape {
	if len(s) >= rank {
		return s.Clone()
	}
	out := make(Shape, rank)
	pad := rank - len(s)
	for i := range out {
		if i < pad {
			out[i] = 1
		} else {
			out[i] = s[i-pad]
		}
	}
	return out
}

// NormalizeAxis maps a possibly negative axis into [0, rank).
func NormalizeAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, invalidf("axis %d out of range for rank %d", axis, rank)
	}
	return axis, nil
}

// ReducedShape returns the shape left after reducing axis.
func ReducedShape(s Shape, axis int, keep bool) Shape {
	if keep {
		out := s.Clone()
		out[axis] = 1
		return out
	}
	out := make(Shape, 0, len(s)-1)
	out = append(out, s[:axis]...)
	return append(out, s[axis+1:]...)
}

// Broadcast is the result of aligning two operands: the output shape and
// each operand's strides over it (zero on broadcast axes).
type Broadcast struct {
	Shape    Shape
	StridesA []int
	StridesB []int
}

// BroadcastStrides aligns (aShape, aStrides) with (bShape, bStrides) from
// the trailing axis backward. Equal extents keep both strides; an extent of
// 1 on one side contributes stride 0 there; any other mismatch fails.
func BroadcastStrides(aShape Shape, aStrides []int, bShape Shape, bStrides []int) (Broadcast, error) {
	rank := max(len(aShape), len(bShape))
	if rank > MaxRank {
		return Broadcast{}, shapef("broadcast rank %d exceeds %d", rank, MaxRank)
	}
	out := Broadcast{
		Shape:    make(Shape, rank),
		StridesA: make([]int, rank),
		StridesB: make([]int, rank),
	}
	for i := 0; i < rank; i++ {
		ai, bi, oi := len(aShape)-1-i, len(bShape)-1-i, rank-1-i
		aDim, aStride := 1, 0
		if ai >= 0 {
			aDim, aStride = aShape[ai], aStrides[ai]
		}
		bDim, bStride := 1, 0
		if bi >= 0 {
			bDim, bStride = bShape[bi], bStrides[bi]
		}
		switch {
		case aDim == bDim:
			out.Shape[oi] = aDim
			out.StridesA[oi], out.StridesB[oi] = aStride, bStride
		case aDim == 1:
			out.Shape[oi] = bDim
			out.StridesA[oi], out.StridesB[oi] = 0, bStride
		case bDim == 1:
			out.Shape[oi] = aDim
			out.StridesA[oi], out.StridesB[oi] = aStride, 0
		default:
			return Broadcast{}, shapef("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				aShape, bShape, oi, aDim, bDim)
		}
	}
	return out, nil
}

// ExpandStrides returns strides that view (shape, strides) as target,
// which must be broadcast-compatible with shape in one direction.
func ExpandStrides(shape Shape, strides []int, target Shape) ([]int, error) {
	if len(target) < len(shape) {
		return nil, shapef("cannot expand %v to %v", shape, target)
	}
	out := make([]int, len(target))
	pad := len(target) - len(shape)
	for i := range target {
		if i < pad {
			continue
		}
		d := shape[i-pad]
		switch {
		case d == target[i]:
			out[i] = strides[i-pad]
		case d == 1:
			out[i] = 0
		default:
			return nil, shapef("cannot expand %v to %v", shape, target)
		}
	}
	return out, nil
}
