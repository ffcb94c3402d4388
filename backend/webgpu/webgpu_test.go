// Copyright 2025 Orchard ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package webgpu_test

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/backend/webgpu"
	"github.com/orchard-ml/orchard/tensor"
)

func TestAvailabilityIsConsistent(t *testing.T) {
	name, err := webgpu.AdapterName()
	if webgpu.IsAvailable() {
		if err != nil || name == "" {
			t.Fatalf("available but AdapterName() = %q, %v", name, err)
		}
		return
	}
	if !errors.Is(err, tensor.ErrDeviceUnavailable) {
		t.Fatalf("AdapterName() error = %v, want ErrDeviceUnavailable", err)
	}
}
