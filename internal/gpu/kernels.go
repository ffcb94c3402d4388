package gpu

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// KernelSource resolves a kernel name to WGSL source.
type KernelSource interface {
	Kernel(name string) (string, error)
}

// BuiltinSource serves the kernels compiled into the binary.
type BuiltinSource struct{}

// Kernel implements KernelSource.
func (BuiltinSource) Kernel(name string) (string, error) {
	src, ok := builtinShaders[name]
	if !ok {
		return "", errors.Wrapf(ErrKernelUnavailable, "no built-in kernel %q", name)
	}
	return src, nil
}

// DirSource reads <dir>/<name>.wgsl.
type DirSource struct {
	Dir string
}

// Kernel implements KernelSource.
func (s DirSource) Kernel(name string) (string, error) {
	path := filepath.Join(s.Dir, name+".wgsl")
	data, err := os.ReadFile(path) //nolint:gosec // kernel directory is operator configured
	if err != nil {
		return "", errors.Wrapf(ErrKernelUnavailable, "read %s: %v", path, err)
	}
	return string(data), nil
}

// ChainSource tries each source in order and returns the first hit.
type ChainSource []KernelSource

// Kernel implements KernelSource.
func (c ChainSource) Kernel(name string) (string, error) {
	for _, s := range c {
		if src, err := s.Kernel(name); err == nil {
			return src, nil
		}
	}
	return "", errors.Wrapf(ErrKernelUnavailable, "kernel %q not found in %d sources", name, len(c))
}
