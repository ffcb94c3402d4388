package tensor

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/orchard-ml/orchard/internal/gpu"
	"github.com/orchard-ml/orchard/internal/profile"
)

// Alignment is the byte alignment of every host region.
const Alignment = 64

// Storage is a reference-counted memory region owned by one device.
// The region is freed exactly once, when the count drops from 1 to 0,
// through the producing allocator or the wrapped release callback.
type Storage struct {
	host     []byte
	buf      gpu.Buffer
	size     int
	device   Device
	strategy Strategy
	alloc    Allocator
	release  func()
	label    string
	profID   uint64

	refs  atomic.Int32
	mu    sync.Mutex
	freed bool
}

func newLabel(dev Device) string {
	return strings.ToLower(dev.String()) + "-" + uuid.NewString()
}

// newStorage registers a region with a count of 1.
func newStorage(host []byte, buf gpu.Buffer, size int, dev Device, strategy Strategy, alloc Allocator, release func()) *Storage {
	s := &Storage{
		host:     host,
		buf:      buf,
		size:     size,
		device:   dev,
		strategy: strategy,
		alloc:    alloc,
		release:  release,
		label:    newLabel(dev),
	}
	s.refs.Store(1)
	s.profID = profile.Alloc(s.label, size, s.Pointer(), dev.String())
	return s
}

// Retain adds a reference. It fails once the region has been freed.
func (s *Storage) Retain() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference and frees the region on the last one.
func (s *Storage) Release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.freed {
		return
	}
	s.freed = true
	profile.Free(s.profID)
	switch {
	case s.alloc != nil:
		s.alloc.Deallocate(s)
	case s.release != nil:
		s.release()
	}
	s.host = nil
	s.buf = nil
}

// RefCount returns the current reference count.
func (s *Storage) RefCount() int32 { return s.refs.Load() }

// Freed reports whether the region has been released.
func (s *Storage) Freed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freed
}

// Size returns the region length in bytes.
func (s *Storage) Size() int { return s.size }

// Device returns the owning device.
func (s *Storage) Device() Device { return s.device }

// Strategy returns the allocator variant that produced the region.
func (s *Storage) Strategy() Strategy { return s.strategy }

// Label returns the diagnostic label.
func (s *Storage) Label() string { return s.label }

// Wrapped reports whether the region was supplied by the caller.
func (s *Storage) Wrapped() bool { return s.alloc == nil }

// Buffer returns the device buffer of a GPU region.
func (s *Storage) Buffer() gpu.Buffer { return s.buf }

// Bytes returns the host region.
func (s *Storage) Bytes() []byte { return s.host }

// Floats returns the host region as float32s.
func (s *Storage) Floats() []float32 {
	if len(s.host) < 4 {
		return nil
	}
	//nolint:gosec // host regions are 64-byte aligned and sized in whole elements
	return unsafe.Slice((*float32)(unsafe.Pointer(&s.host[0])), len(s.host)/4)
}

// Pointer returns the base address of a host region or the buffer handle
// of a GPU region.
func (s *Storage) Pointer() uintptr {
	switch {
	case len(s.host) > 0:
		return uintptr(unsafe.Pointer(&s.host[0]))
	case s.buf != nil:
		return s.buf.Handle()
	default:
		return 0
	}
}

// String returns a short description.
func (s *Storage) String() string {
	return fmt.Sprintf("Storage{%s, %s, %d bytes, refs=%d}", s.label, s.strategy, s.size, s.RefCount())
}

// alignedBytes returns a zeroed slice of size bytes starting on a 64-byte
// boundary.
func alignedBytes(size int) []byte {
	raw := make([]byte, size+Alignment-1)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % Alignment); rem != 0 {
		off = Alignment - rem
	}
	return raw[off : off+size : off+size]
}

// AlignedFloat32s returns a zeroed 64-byte aligned slice of n float32s,
// suitable for FromData.
func AlignedFloat32s(n int) []float32 {
	b := alignedBytes(n * 4)
	//nolint:gosec // b is aligned and holds exactly n float32s
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}

func isAligned(p unsafe.Pointer) bool {
	return uintptr(p)%Alignment == 0
}
