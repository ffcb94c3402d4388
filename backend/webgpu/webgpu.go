// Copyright 2025 Orchard ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu reports on the WebGPU device used by the tensor runtime.
//
// The runtime opens the device itself; this package lets callers decide up
// front whether to configure a GPU runtime:
//
//	cfg := tensor.DefaultConfig()
//	if !webgpu.IsAvailable() {
//	    cfg.Device = "cpu"
//	}
//	rt, err := tensor.NewRuntime(cfg)
package webgpu

import (
	"github.com/orchard-ml/orchard/internal/device"
)

// IsAvailable reports whether a WebGPU adapter and device can be opened.
//
// The device is opened at most once per process and shared by every
// runtime, so calling IsAvailable before NewRuntime costs nothing extra.
func IsAvailable() bool {
	_, err := device.Shared()
	return err == nil
}

// AdapterName describes the opened device, for example
// "webgpu (NVIDIA GeForce RTX 3080)". It returns the open error when no
// device is available.
func AdapterName() (string, error) {
	acc, err := device.Shared()
	if err != nil {
		return "", err
	}
	return acc.Name(), nil
}
