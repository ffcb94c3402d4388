package autodiff

import (
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orchard-ml/orchard/internal/tensor"
)

// Backward computes gradients of root with respect to every tensor in its
// graph that requires them.
//
// The root gradient is seeded with ones. Each node's backward runs once, in
// reverse topological order, after all of its consumers have contributed.
// Gradients accumulate into the slots of tensors that require them; a second
// Backward adds to the existing slot values. When the walk ends, every node
// it visited is released and the tensors it produced become Consumed.
func (e *Engine) Backward(root *Tensor) error {
	root.mu.Lock()
	v, rg, st := root.view, root.requiresGrad, root.state
	root.mu.Unlock()

	switch {
	case !v.Valid():
		return tensor.ErrReleased
	case !rg:
		return invalidf("backward from a tensor that does not require grad")
	case st == Consumed:
		return invalidf("graph already consumed by a previous backward")
	}

	seed, err := e.d.Full(v.Shape(), 1, v.Device())
	if err != nil {
		return errors.Wrap(err, "seed gradient")
	}
	if root.node == nil {
		defer seed.Release()
		return e.accumulate(root.owner(), seed)
	}

	order := topo(root)
	upstream := map[*Tensor]*tensor.View{root: seed}
	defer func() {
		for _, g := range upstream {
			g.Release()
		}
		releaseGraph(order)
	}()

	for _, t := range order {
		g := upstream[t]
		if g == nil {
			continue
		}
		delete(upstream, t)
		if err := e.step(t, g, upstream); err != nil {
			return err
		}
	}
	return nil
}

// step runs t's node backward with upstream gradient g, which it consumes.
func (e *Engine) step(t *Tensor, g *tensor.View, upstream map[*Tensor]*tensor.View) error {
	defer g.Release()

	n := t.node
	needs := make([]bool, len(n.inputs))
	for i, in := range n.inputs {
		needs[i] = in.RequiresGrad()
	}
	gs, err := n.op.Backward(g, e.d, needs)
	if err != nil {
		return errors.Wrapf(err, "backward %s", n.op.Name())
	}
	klog.V(4).Infof("autodiff: backward %s over %d inputs", n.op.Name(), len(n.inputs))

	for i, in := range n.inputs {
		gi := gs[i]
		if gi == nil {
			continue
		}
		if !needs[i] {
			gi.Release()
			continue
		}
		if err := e.accumulate(in.owner(), gi); err != nil {
			releaseFrom(gs, i)
			return err
		}
		if in.node == nil {
			gi.Release()
			continue
		}
		prev, ok := upstream[in]
		if !ok {
			upstream[in] = gi
			continue
		}
		sum, err := e.d.Add(prev, gi)
		gi.Release()
		if err != nil {
			releaseFrom(gs, i+1)
			return errors.Wrap(err, "accumulate upstream gradient")
		}
		prev.Release()
		upstream[in] = sum
	}
	return nil
}

// accumulate adds g into t's gradient slot. g stays owned by the caller.
// Released tensors and internal snapshots without an owner take no slot.
func (e *Engine) accumulate(t *Tensor, g *tensor.View) error {
	t.mu.Lock()
	skip := t.state == Released || t.internal
	cur := t.grad
	t.mu.Unlock()
	if skip {
		return nil
	}

	if cur == nil {
		z, err := e.d.ZerosLike(g)
		if err != nil {
			return errors.Wrap(err, "allocate gradient slot")
		}
		cur = z
		defer z.Release()
	}
	sum, err := e.d.Add(cur, g)
	if err != nil {
		return errors.Wrap(err, "accumulate gradient")
	}

	t.mu.Lock()
	old := t.grad
	t.grad = sum
	t.mu.Unlock()
	if old != nil {
		old.Release()
	}
	return nil
}

// topo returns the recorded tensors reachable from root, root first, each
// before every tensor it was computed from.
func topo(root *Tensor) []*Tensor {
	type frame struct {
		t    *Tensor
		next int
	}
	var order []*Tensor
	seen := map[*Tensor]bool{root: true}
	stack := []frame{{t: root}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if n := f.t.node; n != nil && f.next < len(n.inputs) {
			in := n.inputs[f.next]
			f.next++
			if in.node != nil && !seen[in] {
				seen[in] = true
				stack = append(stack, frame{t: in})
			}
			continue
		}
		order = append(order, f.t)
		stack = stack[:len(stack)-1]
	}
	slices.Reverse(order)
	return order
}

// releaseGraph frees the nodes of the walked tensors and the snapshots they
// referenced.
func releaseGraph(order []*Tensor) {
	var snapshots []*Tensor
	for _, t := range order {
		t.mu.Lock()
		n := t.node
		t.node = nil
		if t.state == Recorded {
			t.state = Consumed
		}
		t.mu.Unlock()
		if n == nil {
			continue
		}
		n.op.Release()
		for _, in := range n.inputs {
			if in.internal {
				snapshots = append(snapshots, in)
			}
		}
	}
	for _, s := range snapshots {
		s.Release()
	}
}

func releaseFrom(gs []*tensor.View, i int) {
	for ; i < len(gs); i++ {
		if gs[i] != nil {
			gs[i].Release()
		}
	}
}
