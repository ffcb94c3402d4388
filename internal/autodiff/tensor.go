// Package autodiff implements reverse-mode automatic differentiation over
// dispatcher operations.
//
// Every operation on a Tensor that requires gradients records a node linking
// the result to its inputs. Backward walks the graph from a root once,
// accumulating gradients into each participating tensor's slot, and then
// releases the graph.
package autodiff

import (
	"sync"

	"github.com/orchard-ml/orchard/internal/autodiff/ops"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// State is a tensor's position in the graph lifecycle.
type State int

// Graph states.
const (
	// Leaf tensors were created directly, not by a recorded operation.
	Leaf State = iota
	// Recorded tensors are the output of a node still in the graph.
	Recorded
	// Consumed tensors had their node released by Backward.
	Consumed
	// Released tensors no longer own a view.
	Released
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Leaf:
		return "leaf"
	case Recorded:
		return "recorded"
	case Consumed:
		return "consumed"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

type node struct {
	op     ops.Operation
	inputs []*Tensor
}

// Tensor is a view with an optional gradient slot and graph link.
type Tensor struct {
	mu           sync.Mutex
	view         *tensor.View
	requiresGrad bool
	grad         *tensor.View
	node         *node
	state        State

	// gradOwner receives this tensor's accumulated gradient instead of its
	// own slot. Set on the snapshot taken before an in-place update of a
	// leaf.
	gradOwner *Tensor
	// internal tensors are created by the engine and freed with the graph.
	internal bool
}

// Wrap makes a leaf tensor from v, taking ownership of v.
func Wrap(v *tensor.View, requiresGrad bool) *Tensor {
	return &Tensor{view: v, requiresGrad: requiresGrad}
}

// View returns the underlying view. It stays owned by the tensor.
func (t *Tensor) View() *tensor.View {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// Valid reports whether t still owns a usable view.
func (t *Tensor) Valid() bool { return t.View().Valid() }

// Shape returns the tensor shape, or nil once released.
func (t *Tensor) Shape() tensor.Shape {
	v := t.View()
	if v == nil {
		return nil
	}
	return v.Shape()
}

// Device returns the owning device.
func (t *Tensor) Device() tensor.Device {
	v := t.View()
	if v == nil {
		return tensor.CPU
	}
	return v.Device()
}

// RequiresGrad reports whether gradients flow to t.
func (t *Tensor) RequiresGrad() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requiresGrad
}

// SetRequiresGrad marks a leaf for gradient accumulation.
func (t *Tensor) SetRequiresGrad(v bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.node != nil {
		return invalidf("requires-grad of a recorded tensor cannot change")
	}
	t.requiresGrad = v
	return nil
}

// State returns the graph state.
func (t *Tensor) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsLeaf reports whether t has no recorded node.
func (t *Tensor) IsLeaf() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.node == nil
}

// Grad returns the accumulated gradient, or nil before any backward pass
// reached t. The view stays owned by t until ZeroGrad or Release.
func (t *Tensor) Grad() *tensor.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.grad
}

// ZeroGrad clears the gradient slot.
func (t *Tensor) ZeroGrad() {
	t.mu.Lock()
	g := t.grad
	t.grad = nil
	t.mu.Unlock()
	if g != nil {
		g.Release()
	}
}

// Detach returns a tensor sharing t's storage with no graph link, no
// gradient and requires-grad off.
func (t *Tensor) Detach() (*Tensor, error) {
	v := t.View()
	if !v.Valid() {
		return nil, tensor.ErrReleased
	}
	a, err := v.Alias()
	if err != nil {
		return nil, err
	}
	return Wrap(a, false), nil
}

// Release drops the view and the gradient. A recorded node stays linked so
// a later Backward through t still reaches t's inputs; the walk frees it.
func (t *Tensor) Release() {
	if t == nil {
		return
	}
	t.mu.Lock()
	v, g := t.view, t.grad
	t.view, t.grad = nil, nil
	t.state = Released
	t.mu.Unlock()
	if g != nil {
		g.Release()
	}
	if v != nil {
		v.Release()
	}
}

// owner returns the tensor whose slot receives t's gradient.
func (t *Tensor) owner() *Tensor {
	if t.gradOwner != nil {
		return t.gradOwner
	}
	return t
}

// String describes the tensor.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(invalid)"
	}
	return t.View().String()
}
