package tensor

import (
	"runtime"
	"sync"
)

// View addresses a region of a Storage through a shape, element strides and
// an element offset:
//
//	address(idx) = base + offset + Σ idx[d]·strides[d]
//
// Views share their storage; deriving a view retains it and Release drops
// this view's reference. A view that becomes unreachable without Release
// is released by the runtime. The mutex serializes structural access to
// this view against a concurrent Release; it does not order arithmetic
// between different views of one storage.
type View struct {
	mu      sync.Mutex
	storage *Storage
	shape   Shape
	strides []int
	offset  int
	dtype   DataType
	device  Device
	cleanup runtime.Cleanup
}

// newView takes ownership of one reference to s.
func newView(s *Storage, shape Shape, strides []int, offset int) *View {
	v := &View{
		storage: s,
		shape:   shape,
		strides: strides,
		offset:  offset,
		dtype:   Float32,
		device:  s.device,
	}
	v.cleanup = runtime.AddCleanup(v, func(s *Storage) { s.Release() }, s)
	return v
}

// Valid reports whether v is usable. A nil or released view is the invalid
// tensor returned by failed constructions.
func (v *View) Valid() bool {
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.storage != nil
}

// Release drops this view's storage reference. Later calls are no-ops.
func (v *View) Release() {
	if v == nil {
		return
	}
	v.mu.Lock()
	s := v.storage
	v.storage = nil
	if s != nil {
		v.cleanup.Stop()
	}
	v.mu.Unlock()
	if s != nil {
		s.Release()
	}
}

// Acquire returns the storage with an extra reference held for the caller,
// who must Release it. It fails on a released view.
func (v *View) Acquire() (*Storage, error) {
	if v == nil {
		return nil, ErrReleased
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.storage == nil {
		return nil, ErrReleased
	}
	if err := v.storage.Retain(); err != nil {
		return nil, err
	}
	return v.storage, nil
}

// derive builds a view sharing v's storage.
func (v *View) derive(shape Shape, strides []int, offset int) (*View, error) {
	s, err := v.Acquire()
	if err != nil {
		return nil, err
	}
	return newView(s, shape, strides, offset), nil
}

// Alias returns a new view with identical metadata sharing the storage.
func (v *View) Alias() (*View, error) {
	return v.derive(v.shape.Clone(), cloneInts(v.strides), v.offset)
}

// Storage returns the backing storage without retaining it.
func (v *View) Storage() *Storage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.storage
}

// Shape returns a copy of the shape.
func (v *View) Shape() Shape { return v.shape.Clone() }

// Strides returns a copy of the strides.
func (v *View) Strides() []int { return cloneInts(v.strides) }

// Offset returns the element offset into the storage.
func (v *View) Offset() int { return v.offset }

// ByteOffset returns the byte offset into the storage.
func (v *View) ByteOffset() int { return v.offset * v.dtype.Size() }

// DType returns the element type.
func (v *View) DType() DataType { return v.dtype }

// Device returns the device owning the storage.
func (v *View) Device() Device { return v.device }

// Rank returns the number of dimensions.
func (v *View) Rank() int { return len(v.shape) }

// NumElements returns the logical element count.
func (v *View) NumElements() int { return v.shape.NumElements() }

// IsContiguous reports whether the strides are row-major for the shape.
// Axes of extent 1 do not constrain their stride.
func (v *View) IsContiguous() bool {
	acc := 1
	for d := len(v.shape) - 1; d >= 0; d-- {
		if v.shape[d] != 1 && v.strides[d] != acc {
			return false
		}
		acc *= v.shape[d]
	}
	return true
}

// IsAliasOf reports whether v and other share storage.
func (v *View) IsAliasOf(other *View) bool {
	if v == nil || other == nil {
		return false
	}
	a, b := v.Storage(), other.Storage()
	return a != nil && a == b
}

// DataPointer returns the address of the first addressable element on the
// host, or the buffer handle plus byte offset on the GPU. It is the raw
// pointer other tensor systems wrap without copying.
func (v *View) DataPointer() uintptr {
	s := v.Storage()
	if s == nil {
		return 0
	}
	return s.Pointer() + uintptr(v.ByteOffset())
}

// View reinterprets a contiguous view with a new shape of equal size.
func (v *View) View(shape ...int) (*View, error) {
	ns := Shape(shape)
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if ns.NumElements() != v.NumElements() {
		return nil, shapef("view %v has %d elements, source %v has %d",
			ns, ns.NumElements(), v.shape, v.NumElements())
	}
	if !v.IsContiguous() {
		return nil, invalidf("view of non-contiguous tensor %v (strides %v)", v.shape, v.strides)
	}
	return v.derive(ns.Clone(), ns.ComputeStrides(), v.offset)
}

// Slice keeps indices start, start+step, ... below end along dim.
func (v *View) Slice(dim, start, end, step int) (*View, error) {
	if dim < 0 || dim >= len(v.shape) {
		return nil, invalidf("slice dim %d out of range for rank %d", dim, len(v.shape))
	}
	if start < 0 || end > v.shape[dim] || start >= end || step <= 0 {
		return nil, invalidf("slice [%d:%d:%d] out of range for extent %d", start, end, step, v.shape[dim])
	}
	shape := v.shape.Clone()
	strides := cloneInts(v.strides)
	shape[dim] = (end - start + step - 1) / step
	strides[dim] *= step
	return v.derive(shape, strides, v.offset+start*v.strides[dim])
}

// Transpose swaps two dimensions.
func (v *View) Transpose(d0, d1 int) (*View, error) {
	r := len(v.shape)
	if d0 < 0 || d0 >= r || d1 < 0 || d1 >= r {
		return nil, invalidf("transpose dims (%d, %d) out of range for rank %d", d0, d1, r)
	}
	shape := v.shape.Clone()
	strides := cloneInts(v.strides)
	shape[d0], shape[d1] = shape[d1], shape[d0]
	strides[d0], strides[d1] = strides[d1], strides[d0]
	return v.derive(shape, strides, v.offset)
}

// Permute reorders dimensions: result dim i is source dim axes[i].
func (v *View) Permute(axes ...int) (*View, error) {
	r := len(v.shape)
	if len(axes) != r {
		return nil, invalidf("permute needs %d axes, got %d", r, len(axes))
	}
	seen := make([]bool, r)
	shape := make(Shape, r)
	strides := make([]int, r)
	for i, a := range axes {
		if a < 0 || a >= r || seen[a] {
			return nil, invalidf("invalid permutation %v", axes)
		}
		seen[a] = true
		shape[i] = v.shape[a]
		strides[i] = v.strides[a]
	}
	return v.derive(shape, strides, v.offset)
}

// Expand views v as the larger shape target, repeating extent-1 axes with
// stride 0.
func (v *View) Expand(target Shape) (*View, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	strides, err := ExpandStrides(v.shape, v.strides, target)
	if err != nil {
		return nil, err
	}
	return v.derive(target.Clone(), strides, v.offset)
}

// Offsetof returns the element index of idx within the storage.
func (v *View) Offsetof(idx ...int) (int, error) {
	if len(idx) != len(v.shape) {
		return 0, invalidf("index rank %d, tensor rank %d", len(idx), len(v.shape))
	}
	off := v.offset
	for d, i := range idx {
		if i < 0 || i >= v.shape[d] {
			return 0, invalidf("index %d out of range for dim %d (extent %d)", i, d, v.shape[d])
		}
		off += i * v.strides[d]
	}
	return off, nil
}

func cloneInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
