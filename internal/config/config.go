// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"bytes"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/orchard-ml/orchard/internal/device"
	"github.com/orchard-ml/orchard/internal/gpu"
	"github.com/orchard-ml/orchard/internal/profile"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig               = "ORCHARD_CONFIG"
	EnvDevice               = "ORCHARD_DEVICE"
	EnvKernelDir            = "ORCHARD_KERNEL_DIR"
	EnvLargeBufferThreshold = "ORCHARD_LARGE_BUFFER_THRESHOLD"
	EnvDisableGPU           = "ORCHARD_DISABLE_GPU"
	EnvStrictDivision       = "ORCHARD_STRICT_DIVISION"
	EnvProfile              = profile.EnvVar
)

// DefaultFile is loaded when no path is given and it exists in the working
// directory.
const DefaultFile = "orchard.yaml"

// Config holds the runtime settings.
type Config struct {
	// Device is the default device for new tensors: cpu, gpu or auto.
	Device string `yaml:"device"`
	// KernelDir overrides built-in WGSL kernels with <dir>/<name>.wgsl.
	KernelDir string `yaml:"kernel_dir"`
	// LargeBufferThreshold is the GPU purgeable-strategy cutoff in bytes.
	LargeBufferThreshold int `yaml:"large_buffer_threshold"`
	// DisableGPU skips accelerator initialisation.
	DisableGPU bool `yaml:"disable_gpu"`
	// StrictDivision makes division by zero an error instead of yielding 0.
	StrictDivision bool `yaml:"strict_division"`
	// WarmKernels are compiled at startup.
	WarmKernels []string `yaml:"warm_kernels"`
	// Profile turns allocation diagnostics on.
	Profile bool `yaml:"profile"`
	// ProfileLog redirects diagnostics to a file.
	ProfileLog string `yaml:"profile_log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Device:               "auto",
		LargeBufferThreshold: tensor.DefaultLargeBufferThreshold,
	}
}

// Load builds a Config from defaults, the YAML file at path and the process
// environment. An empty path falls back to ORCHARD_CONFIG, then to
// DefaultFile when it exists.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	explicit := path != ""
	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path) //nolint:gosec // config path is operator supplied
	switch {
	case err == nil:
		if err := cfg.Decode(data); err != nil {
			return Config{}, errors.Wrapf(err, "config %s", path)
		}
	case explicit || !os.IsNotExist(err):
		return Config{}, errors.Wrap(err, "read config")
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Decode merges YAML data into c. Unknown keys are rejected.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decode yaml")
	}
	return nil
}

// ApplyEnv overrides fields from the environment through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDevice); ok {
		c.Device = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvKernelDir); ok {
		c.KernelDir = v
	}
	if v, ok := lookup(EnvLargeBufferThreshold); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", EnvLargeBufferThreshold)
		}
		c.LargeBufferThreshold = n
	}
	if v, ok := lookup(EnvDisableGPU); ok {
		c.DisableGPU = toggle(v)
	}
	if v, ok := lookup(EnvStrictDivision); ok {
		c.StrictDivision = toggle(v)
	}
	if v, ok := lookup(EnvProfile); ok {
		c.Profile = toggle(v)
	}
	return nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	switch c.Device {
	case "auto", "cpu", "gpu":
	default:
		return errors.Wrapf(tensor.ErrInvalidArgument, "device %q: want auto, cpu or gpu", c.Device)
	}
	if c.LargeBufferThreshold <= 0 {
		return errors.Wrapf(tensor.ErrInvalidArgument, "large buffer threshold %d must be positive", c.LargeBufferThreshold)
	}
	if c.Device == "gpu" && c.DisableGPU {
		return errors.Wrap(tensor.ErrInvalidArgument, "device gpu with gpu disabled")
	}
	for _, k := range c.WarmKernels {
		if !slices.Contains(gpu.Kernels, k) {
			return errors.Wrapf(tensor.ErrInvalidArgument, "unknown warm kernel %q", k)
		}
	}
	return nil
}

// DefaultDevice resolves Device against GPU availability.
func (c Config) DefaultDevice(hasGPU bool) tensor.Device {
	switch c.Device {
	case "gpu":
		return tensor.GPU
	case "cpu":
		return tensor.CPU
	}
	if hasGPU && !c.DisableGPU {
		return tensor.GPU
	}
	return tensor.CPU
}

// DeviceOptions returns context options for these settings.
func (c Config) DeviceOptions() device.Options {
	opts := device.Options{
		LargeBufferThreshold: c.LargeBufferThreshold,
		DisableGPU:           c.DisableGPU,
		WarmKernels:          c.WarmKernels,
	}
	if c.KernelDir != "" {
		opts.Kernels = gpu.ChainSource{gpu.DirSource{Dir: c.KernelDir}, gpu.BuiltinSource{}}
	}
	return opts
}

// ApplyProfile pushes the diagnostics settings to the profile package.
func (c Config) ApplyProfile() {
	if c.ProfileLog != "" {
		profile.SetLogPath(c.ProfileLog)
	}
	if c.Profile {
		profile.Override(true)
	}
}

func toggle(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
