// Copyright 2025 Orchard ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/orchard-ml/orchard/internal/autodiff"
	"github.com/orchard-ml/orchard/internal/config"
	"github.com/orchard-ml/orchard/internal/dispatch"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Type aliases for public API

// Tensor is a view with an optional gradient slot and graph link.
//
// Tensors are created and combined through a Runtime. A Tensor belongs to
// the Runtime that made it.
type Tensor = autodiff.Tensor

// View is the strided window over a reference-counted buffer that backs a
// Tensor.
type View = tensor.View

// State is a tensor's position in the graph lifecycle.
type State = autodiff.State

// Graph states.
const (
	Leaf     State = autodiff.Leaf
	Recorded State = autodiff.Recorded
	Consumed State = autodiff.Consumed
	Released State = autodiff.Released
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} is a rank-3 tensor with 24 elements. Shape{} is a
// scalar.
type Shape = tensor.Shape

// MaxRank is the largest supported rank.
const MaxRank = tensor.MaxRank

// DataType is the element type. Only Float32 is supported.
type DataType = tensor.DataType

// Float32 is the only element type.
const Float32 DataType = tensor.Float32

// Device identifies where a tensor's storage lives.
type Device = tensor.Device

// Device constants.
const (
	CPU Device = tensor.CPU
	GPU Device = tensor.GPU
)

// ParseDevice parses "cpu" or "gpu".
func ParseDevice(s string) (Device, error) {
	return tensor.ParseDevice(s)
}

// Config holds runtime settings. See LoadConfig.
type Config = config.Config

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads settings from the YAML file at path (or ORCHARD_CONFIG,
// or ./orchard.yaml when present) and applies ORCHARD_* environment
// overrides.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// Stats counts how a runtime's operations were executed.
type Stats = dispatch.Stats

// Errors returned by the runtime. Compare with errors.Is.
var (
	ErrDeviceUnavailable = tensor.ErrDeviceUnavailable
	ErrKernelUnavailable = tensor.ErrKernelUnavailable
	ErrShapeMismatch     = tensor.ErrShapeMismatch
	ErrInvalidArgument   = tensor.ErrInvalidArgument
	ErrMisaligned        = tensor.ErrMisaligned
	ErrReleased          = tensor.ErrReleased
	ErrDivisionByZero    = tensor.ErrDivisionByZero
)

// Class groups errors by how callers should react.
type Class = tensor.Class

// Error classes.
const (
	NoError   Class = tensor.NoError
	SoftFail  Class = tensor.SoftFail
	Retryable Class = tensor.Retryable
	HardFail  Class = tensor.HardFail
)

// Classify returns the class of err.
func Classify(err error) Class {
	return tensor.Classify(err)
}

// AlignedFloat32s returns a zeroed slice whose first element is 64-byte
// aligned, suitable for Runtime.Wrap.
func AlignedFloat32s(n int) []float32 {
	return tensor.AlignedFloat32s(n)
}
