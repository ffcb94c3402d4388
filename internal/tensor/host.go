package tensor

import (
	"fmt"
	"strings"

	"github.com/orchard-ml/orchard/internal/backend/cpu"
)

// Operand returns the host operand addressing v. The caller must hold a
// storage reference (see Acquire) for as long as the operand is used.
func (v *View) Operand(s *Storage) cpu.Operand {
	return cpu.Operand{Data: s.Floats(), Strides: cloneInts(v.strides), Offset: v.offset}
}

func (v *View) hostStorage() (*Storage, error) {
	if v.device != CPU {
		return nil, invalidf("host access to %s tensor", v.device)
	}
	return v.Acquire()
}

// At reads one element of a host tensor.
func (v *View) At(idx ...int) (float32, error) {
	s, err := v.hostStorage()
	if err != nil {
		return 0, err
	}
	defer s.Release()
	off, err := v.Offsetof(idx...)
	if err != nil {
		return 0, err
	}
	return s.Floats()[off], nil
}

// SetAt writes one element of a host tensor.
func (v *View) SetAt(val float32, idx ...int) error {
	s, err := v.hostStorage()
	if err != nil {
		return err
	}
	defer s.Release()
	off, err := v.Offsetof(idx...)
	if err != nil {
		return err
	}
	s.Floats()[off] = val
	return nil
}

// Float32s gathers the logical elements of a host tensor in row-major order.
func (v *View) Float32s() ([]float32, error) {
	s, err := v.hostStorage()
	if err != nil {
		return nil, err
	}
	defer s.Release()
	out := make([]float32, v.NumElements())
	cpu.Gather(out, v.shape, v.Operand(s))
	return out, nil
}

// String renders metadata and, for host tensors, the values.
func (v *View) String() string {
	if !v.Valid() {
		return "Tensor(invalid)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tensor(shape=%v, strides=%v, offset=%d, %s, %s", v.shape, v.strides, v.offset, v.dtype, v.device)
	if v.device == CPU {
		if vals, err := v.Float32s(); err == nil {
			const limit = 16
			if len(vals) > limit {
				fmt.Fprintf(&b, ", data=%v...", vals[:limit])
			} else {
				fmt.Fprintf(&b, ", data=%v", vals)
			}
		}
	}
	b.WriteString(")")
	return b.String()
}
