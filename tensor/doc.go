// Copyright 2025 Orchard ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API of the Orchard tensor runtime.
//
// # Overview
//
// A Runtime owns one worker's execution state: a host context, an optional
// GPU context with its own queue pool, a kernel dispatcher and an autograd
// engine. Create one Runtime per goroutine that computes; the GPU device and
// its compiled pipelines are shared behind the scenes.
//
// # Basic Usage
//
//	import "github.com/orchard-ml/orchard/tensor"
//
//	func main() {
//	    rt, err := tensor.NewRuntime(tensor.DefaultConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer rt.Release()
//
//	    a, _ := rt.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, true)
//	    b, _ := rt.FromSlice([]float32{2, 4, 8}, tensor.Shape{3}, true)
//	    q, _ := rt.Div(a, b)
//	    y, _ := rt.Sum(q)
//	    _ = rt.Backward(y)
//	    ga, _ := rt.GradValues(a) // [0.5 0.25 0.125]
//	}
//
// # Devices
//
// Tensors live on the host (CPU) or on the WebGPU device (GPU). Operations
// run where their operands live. A GPU kernel that cannot be compiled or
// dispatched is re-run on the host transparently; Stats reports how often
// that happened.
//
// # Broadcasting
//
// Binary operations follow NumPy broadcasting: trailing axes are aligned and
// an extent of 1 stretches to match. Gradients of broadcast operands are
// summed back to the operand shape.
//
// # Memory
//
// Storage is reference counted. Views created by Transpose, Slice, View and
// Detach share storage with their source; Release drops a tensor's
// reference and the storage is freed when the last reference goes.
//
// # Division
//
// Division is safe by default: dividing by zero yields zero. With
// Config.StrictDivision set, a zero divisor fails with ErrDivisionByZero
// before any kernel runs.
package tensor
