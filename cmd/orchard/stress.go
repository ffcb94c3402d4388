package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/orchard-ml/orchard/tensor"
)

type stressOptions struct {
	workers int
	iters   int
	n       int
}

// stress runs host→device→host round trips on concurrent workers, each with
// its own runtime, and verifies bit-exact results and balanced allocations.
func stress(w io.Writer, cfg tensor.Config, args []string) error {
	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	fs.SetOutput(w)
	var opts stressOptions
	fs.IntVar(&opts.workers, "workers", 4, "concurrent workers")
	fs.IntVar(&opts.iters, "iters", 10, "round trips per worker")
	fs.IntVar(&opts.n, "n", 1<<20, "elements per tensor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.workers <= 0 || opts.iters <= 0 || opts.n <= 0 {
		return errors.Errorf("workers, iters and n must be positive")
	}
	return runStress(w, cfg, opts)
}

func runStress(w io.Writer, cfg tensor.Config, opts stressOptions) error {
	base, err := tensor.NewRuntime(cfg)
	if err != nil {
		return err
	}
	target := tensor.CPU
	if base.HasGPU() {
		target = tensor.GPU
	}
	fmt.Fprintf(w, "stress: %d workers x %d iterations x %d elements via %s (%s)\n",
		opts.workers, opts.iters, opts.n, target, base.DeviceName())
	base.Release()
	baseline := base.LiveAllocations()

	start := time.Now()
	stats := make([]tensor.Stats, opts.workers)
	var g errgroup.Group
	for id := range opts.workers {
		g.Go(func() error {
			rt, err := tensor.NewRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Release()
			for it := range opts.iters {
				if err := roundTrip(rt, target, opts.n, float32(id*opts.iters+it)); err != nil {
					return errors.Wrapf(err, "worker %d iteration %d", id, it)
				}
			}
			stats[id] = rt.Stats()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var total tensor.Stats
	for _, s := range stats {
		total.HostOps += s.HostOps
		total.GPUOps += s.GPUOps
		total.Fallbacks += s.Fallbacks
	}
	if live := base.LiveAllocations(); live != baseline {
		return errors.Errorf("%d buffers leaked", live-baseline)
	}
	fmt.Fprintf(w, "stress: ok in %v (host ops %d, gpu ops %d, fallbacks %d)\n",
		time.Since(start).Round(time.Millisecond), total.HostOps, total.GPUOps, total.Fallbacks)
	return nil
}

func roundTrip(rt *tensor.Runtime, target tensor.Device, n int, seed float32) error {
	data := make([]float32, n)
	for i := range data {
		data[i] = seed + float32(i%1024)*0.25
	}
	var s scope
	defer s.release()

	src, err := s.keep(rt.FromSliceOn(data, tensor.Shape{n}, tensor.CPU, false))
	if err != nil {
		return err
	}
	dev, err := s.keep(rt.To(src, target))
	if err != nil {
		return err
	}
	back, err := s.keep(rt.To(dev, tensor.CPU))
	if err != nil {
		return err
	}
	got, err := rt.Values(back)
	if err != nil {
		return err
	}
	for i := range data {
		if math.Float32bits(got[i]) != math.Float32bits(data[i]) {
			return errors.Errorf("element %d = %g, want %g", i, got[i], data[i])
		}
	}
	return nil
}
