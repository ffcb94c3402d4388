package tensor

import (
	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/gpu"
)

// Error taxonomy. Construction and shape failures return a nil (invalid)
// view together with one of these; callers check with errors.Is.
var (
	// ErrDeviceUnavailable means a GPU was requested but none is open.
	ErrDeviceUnavailable = gpu.ErrDeviceUnavailable
	// ErrKernelUnavailable means a GPU kernel could not be compiled.
	ErrKernelUnavailable = gpu.ErrKernelUnavailable

	ErrShapeMismatch   = errors.New("tensor: shape mismatch")
	ErrInvalidArgument = errors.New("tensor: invalid argument")
	ErrMisaligned      = errors.New("tensor: data not 64-byte aligned")
	ErrReleased        = errors.New("tensor: use of released tensor")
	ErrDivisionByZero  = errors.New("tensor: division by zero")
)

// Class groups errors by how callers should react.
type Class int

// Error classes.
const (
	// NoError is the class of a nil error.
	NoError Class = iota
	// SoftFail is an invalid construction; the result is the invalid tensor.
	SoftFail
	// Retryable failures can be re-run on the host backend.
	Retryable
	// HardFail must propagate.
	HardFail
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case NoError:
		return "ok"
	case SoftFail:
		return "soft-fail"
	case Retryable:
		return "retryable"
	case HardFail:
		return "hard-fail"
	default:
		return "unknown"
	}
}

// Classify returns the class of err.
func Classify(err error) Class {
	switch {
	case err == nil:
		return NoError
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrKernelUnavailable):
		return Retryable
	case errors.Is(err, ErrShapeMismatch), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrMisaligned), errors.Is(err, ErrReleased):
		return SoftFail
	default:
		return HardFail
	}
}

func shapef(format string, args ...any) error {
	return errors.Wrapf(ErrShapeMismatch, format, args...)
}

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
