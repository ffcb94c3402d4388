// Package main provides the Orchard tensor runtime CLI.
//
// Usage:
//
//	orchard [-config orchard.yaml] [-v 1] <command> [flags]
//
// Commands:
//
//	version        Show version
//	info           Report the GPU device and the settings in effect
//	selftest       Check broadcasting, division and gradients on every device
//	stress         Run concurrent host/GPU round trips
//	profile dump   List buffers allocated but never freed in a profile log
//	profile clear  Remove the profile log
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orchard-ml/orchard/backend/webgpu"
	"github.com/orchard-ml/orchard/tensor"
)

const version = "v0.1.0-dev"

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "", "path to a YAML config file (default $ORCHARD_CONFIG or ./orchard.yaml)")
	flag.Usage = func() { usage(flag.CommandLine.Output()) }
	flag.Parse()
	defer klog.Flush()

	if err := run(os.Stdout, *configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "orchard: %v\n", err)
		klog.Flush()
		os.Exit(1)
	}
}

func run(w io.Writer, configPath string, args []string) error {
	if len(args) == 0 {
		usage(w)
		return nil
	}
	if args[0] == "version" {
		fmt.Fprintf(w, "Orchard %s\n", version)
		return nil
	}

	cfg, err := tensor.LoadConfig(configPath)
	if err != nil {
		return err
	}
	switch args[0] {
	case "info":
		return info(w, cfg)
	case "selftest":
		return selftest(w, cfg)
	case "stress":
		return stress(w, cfg, args[1:])
	case "profile":
		return profileCmd(w, args[1:])
	default:
		usage(w)
		return errors.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Orchard tensor runtime %s\n\n", version)
	fmt.Fprintln(w, "Usage: orchard [-config file] [-v level] <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version        Show version")
	fmt.Fprintln(w, "  info           Report the GPU device and the settings in effect")
	fmt.Fprintln(w, "  selftest       Check broadcasting, division and gradients")
	fmt.Fprintln(w, "  stress         Run concurrent host/GPU round trips")
	fmt.Fprintln(w, "  profile dump   List buffers never freed in a profile log")
	fmt.Fprintln(w, "  profile clear  Remove the profile log")
}

func info(w io.Writer, cfg tensor.Config) error {
	fmt.Fprintf(w, "Orchard %s\n\n", version)
	if cfg.DisableGPU {
		fmt.Fprintln(w, "GPU:       disabled")
	} else if name, err := webgpu.AdapterName(); err != nil {
		fmt.Fprintf(w, "GPU:       unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(w, "GPU:       %s\n", name)
	}

	fmt.Fprintln(w, "\nConfiguration:")
	fmt.Fprintf(w, "  Device:                 %s\n", cfg.Device)
	fmt.Fprintf(w, "  Kernel dir:             %s\n", orNone(cfg.KernelDir))
	fmt.Fprintf(w, "  Large buffer threshold: %d bytes\n", cfg.LargeBufferThreshold)
	fmt.Fprintf(w, "  Strict division:        %t\n", cfg.StrictDivision)
	fmt.Fprintf(w, "  Warm kernels:           %v\n", cfg.WarmKernels)
	fmt.Fprintf(w, "  Profiling:              %t\n", cfg.Profile)
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(built-in)"
	}
	return s
}
