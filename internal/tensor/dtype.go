// Package tensor provides the buffer store, allocator strategies and strided
// views the runtime computes on.
package tensor

import "strings"

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types. The runtime computes in a single floating type.
const (
	Float32 DataType = iota
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// Device represents where a buffer lives.
type Device int

// Supported devices.
const (
	CPU Device = iota
	GPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps "cpu"/"host" and "gpu"/"webgpu" to a Device.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu", "host":
		return CPU, nil
	case "gpu", "webgpu":
		return GPU, nil
	default:
		return CPU, invalidf("unknown device %q", s)
	}
}
