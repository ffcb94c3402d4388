package autodiff

import (
	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/autodiff/ops"
	"github.com/orchard-ml/orchard/internal/dispatch"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Engine runs tensor operations through a dispatcher and records graph
// nodes for inputs that require gradients. One engine serves one worker.
type Engine struct {
	d *dispatch.Dispatcher
}

// NewEngine returns an engine over d.
func NewEngine(d *dispatch.Dispatcher) *Engine {
	return &Engine{d: d}
}

// Dispatcher returns the underlying dispatcher.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.d }

// FromSlice copies data into a new leaf tensor on dev.
func (e *Engine) FromSlice(data []float32, shape tensor.Shape, dev tensor.Device, requiresGrad bool) (*Tensor, error) {
	v, err := e.d.FromSlice(data, shape, dev)
	if err != nil {
		return nil, err
	}
	return Wrap(v, requiresGrad), nil
}

// Full returns a leaf tensor with every element set to value.
func (e *Engine) Full(shape tensor.Shape, value float32, dev tensor.Device, requiresGrad bool) (*Tensor, error) {
	v, err := e.d.Full(shape, value, dev)
	if err != nil {
		return nil, err
	}
	return Wrap(v, requiresGrad), nil
}

// Zeros returns a zero-filled leaf tensor.
func (e *Engine) Zeros(shape tensor.Shape, dev tensor.Device, requiresGrad bool) (*Tensor, error) {
	return e.Full(shape, 0, dev, requiresGrad)
}

// Empty returns a leaf tensor whose contents are unspecified.
func (e *Engine) Empty(shape tensor.Shape, dev tensor.Device, requiresGrad bool) (*Tensor, error) {
	v, err := e.d.Empty(shape, dev)
	if err != nil {
		return nil, err
	}
	return Wrap(v, requiresGrad), nil
}

// ZerosLike returns a zero-filled leaf tensor with t's shape and device.
func (e *Engine) ZerosLike(t *Tensor, requiresGrad bool) (*Tensor, error) {
	v, err := single(t)
	if err != nil {
		return nil, err
	}
	out, err := e.d.ZerosLike(v)
	if err != nil {
		return nil, err
	}
	return Wrap(out, requiresGrad), nil
}

// Fill sets every element of t to value. Tensors that require gradients
// cannot be filled.
func (e *Engine) Fill(t *Tensor, value float32) error {
	v, err := single(t)
	if err != nil {
		return err
	}
	if t.RequiresGrad() {
		return invalidf("fill of a tensor that requires grad")
	}
	return e.d.Fill(v, value)
}

// Values reads t's elements in row-major order.
func (e *Engine) Values(t *Tensor) ([]float32, error) {
	return e.d.Values(t.View())
}

// Add returns a + b.
func (e *Engine) Add(a, b *Tensor) (*Tensor, error) {
	va, vb, err := pair(a, b)
	if err != nil {
		return nil, err
	}
	out, err := e.d.Add(va, vb)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewAddOp(va, vb), nil }, a, b)
}

// Mul returns a * b.
func (e *Engine) Mul(a, b *Tensor) (*Tensor, error) {
	va, vb, err := pair(a, b)
	if err != nil {
		return nil, err
	}
	out, err := e.d.Mul(va, vb)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewMulOp(va, vb) }, a, b)
}

// Div returns a / b.
func (e *Engine) Div(a, b *Tensor, safe bool) (*Tensor, error) {
	va, vb, err := pair(a, b)
	if err != nil {
		return nil, err
	}
	out, err := e.d.Div(va, vb, safe)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewDivOp(va, vb, safe) }, a, b)
}

// DivScalar returns a / s.
func (e *Engine) DivScalar(a *Tensor, s float32, safe bool) (*Tensor, error) {
	va, err := single(a)
	if err != nil {
		return nil, err
	}
	out, err := e.d.DivScalar(va, s, safe)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewDivScalarOp(s, safe), nil }, a)
}

// DivScalarInPlace divides t by s in place. When t requires gradients, a
// snapshot of t taken before the update inherits t's node, and t is
// re-linked to the snapshot through a division node. If t was a leaf the
// snapshot forwards its gradient to t's slot.
func (e *Engine) DivScalarInPlace(t *Tensor, s float32, safe bool) error {
	v, err := single(t)
	if err != nil {
		return err
	}
	if !safe && s == 0 {
		return errors.Wrap(tensor.ErrDivisionByZero, "scalar divisor")
	}
	if !t.RequiresGrad() {
		return e.d.DivScalarInPlace(v, s, safe)
	}

	snap, err := e.d.Clone(v)
	if err != nil {
		return err
	}
	if err := e.d.DivScalarInPlace(v, s, safe); err != nil {
		snap.Release()
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	before := &Tensor{
		view:         snap,
		requiresGrad: true,
		node:         t.node,
		state:        t.state,
		internal:     true,
	}
	if t.node == nil {
		before.gradOwner = t
	}
	t.node = &node{op: ops.NewDivScalarOp(s, safe), inputs: []*Tensor{before}}
	t.state = Recorded
	return nil
}

// MatMul returns a @ b.
func (e *Engine) MatMul(a, b *Tensor) (*Tensor, error) {
	va, vb, err := pair(a, b)
	if err != nil {
		return nil, err
	}
	out, err := e.d.MatMul(va, vb)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewMatMulOp(va, vb) }, a, b)
}

// Transpose returns a strided view of t with d0 and d1 swapped.
func (e *Engine) Transpose(t *Tensor, d0, d1 int) (*Tensor, error) {
	v, err := single(t)
	if err != nil {
		return nil, err
	}
	out, err := v.Transpose(d0, d1)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewTransposeOp(d0, d1), nil }, t)
}

// View reshapes a contiguous t.
func (e *Engine) View(t *Tensor, shape ...int) (*Tensor, error) {
	v, err := single(t)
	if err != nil {
		return nil, err
	}
	out, err := v.View(shape...)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewViewOp(v.Shape()), nil }, t)
}

// Slice returns a strided view of t along dim. Slices record no node: the
// result shares t's storage and does not require gradients.
func (e *Engine) Slice(t *Tensor, dim, start, end, step int) (*Tensor, error) {
	v, err := single(t)
	if err != nil {
		return nil, err
	}
	out, err := v.Slice(dim, start, end, step)
	if err != nil {
		return nil, err
	}
	return Wrap(out, false), nil
}

// Sum reduces every element to a rank-0 tensor.
func (e *Engine) Sum(t *Tensor) (*Tensor, error) {
	v, err := single(t)
	if err != nil {
		return nil, err
	}
	out, err := e.d.Sum(v)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewSumOp(v.Shape()), nil }, t)
}

// Mean averages every element into a rank-0 tensor.
func (e *Engine) Mean(t *Tensor) (*Tensor, error) {
	v, err := single(t)
	if err != nil {
		return nil, err
	}
	out, err := e.d.Mean(v)
	if err != nil {
		return nil, err
	}
	return record(out, func() (ops.Operation, error) { return ops.NewMeanOp(v.Shape()), nil }, t)
}

// SumAxis sums along axis.
func (e *Engine) SumAxis(t *Tensor, axis int, keep bool) (*Tensor, error) {
	return e.reduceAxis(t, axis, keep, false)
}

// MeanAxis averages along axis.
func (e *Engine) MeanAxis(t *Tensor, axis int, keep bool) (*Tensor, error) {
	return e.reduceAxis(t, axis, keep, true)
}

func (e *Engine) reduceAxis(t *Tensor, axis int, keep, mean bool) (*Tensor, error) {
	v, err := single(t)
	if err != nil {
		return nil, err
	}
	ax, err := tensor.NormalizeAxis(axis, v.Rank())
	if err != nil {
		return nil, err
	}
	var out *tensor.View
	if mean {
		out, err = e.d.MeanAxis(v, ax, keep)
	} else {
		out, err = e.d.SumAxis(v, ax, keep)
	}
	if err != nil {
		return nil, err
	}
	shape := v.Shape()
	return record(out, func() (ops.Operation, error) {
		if mean {
			return ops.NewMeanAxisOp(shape, ax, keep), nil
		}
		return ops.NewSumAxisOp(shape, ax, keep), nil
	}, t)
}

// Contiguous returns t with a row-major layout.
func (e *Engine) Contiguous(t *Tensor) (*Tensor, error) {
	return e.copyOp(t, e.d.Contiguous)
}

// Clone returns an independent copy of t.
func (e *Engine) Clone(t *Tensor) (*Tensor, error) {
	return e.copyOp(t, e.d.Clone)
}

// To returns t on dev. Gradients flow back to t's device.
func (e *Engine) To(t *Tensor, dev tensor.Device) (*Tensor, error) {
	return e.copyOp(t, func(v *tensor.View) (*tensor.View, error) { return e.d.To(v, dev) })
}

func (e *Engine) copyOp(t *Tensor, fn func(*tensor.View) (*tensor.View, error)) (*Tensor, error) {
	v, err := single(t)
	if err != nil {
		return nil, err
	}
	out, err := fn(v)
	if err != nil {
		return nil, err
	}
	src := v.Device()
	return record(out, func() (ops.Operation, error) { return ops.NewCopyOp(src), nil }, t)
}

// record wraps out, linking it to inputs through the operation built by mk
// when any input requires gradients.
func record(out *tensor.View, mk func() (ops.Operation, error), inputs ...*Tensor) (*Tensor, error) {
	needs := false
	for _, in := range inputs {
		if in.RequiresGrad() {
			needs = true
			break
		}
	}
	if !needs {
		return Wrap(out, false), nil
	}
	op, err := mk()
	if err != nil {
		out.Release()
		return nil, err
	}
	return &Tensor{
		view:         out,
		requiresGrad: true,
		node:         &node{op: op, inputs: inputs},
		state:        Recorded,
	}, nil
}

func single(t *Tensor) (*tensor.View, error) {
	v := t.View()
	if !v.Valid() {
		return nil, tensor.ErrReleased
	}
	return v, nil
}

func pair(a, b *Tensor) (*tensor.View, *tensor.View, error) {
	va, err := single(a)
	if err != nil {
		return nil, nil, err
	}
	vb, err := single(b)
	if err != nil {
		return nil, nil, err
	}
	return va, vb, nil
}

func invalidf(format string, args ...any) error {
	return errors.Wrapf(tensor.ErrInvalidArgument, format, args...)
}
