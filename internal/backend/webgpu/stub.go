//go:build !windows

// Package webgpu implements gpu.Accelerator on WebGPU. On this platform no
// native library is wired, so Open always reports the device unavailable and
// callers run on the host backend.
package webgpu

import "github.com/orchard-ml/orchard/internal/gpu"

// Open reports gpu.ErrDeviceUnavailable.
func Open() (gpu.Accelerator, error) {
	return nil, gpu.ErrDeviceUnavailable
}

// IsAvailable always returns false on this platform.
func IsAvailable() bool { return false }
