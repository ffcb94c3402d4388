package tensor

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/gpu/gputest"
	"github.com/orchard-ml/orchard/internal/profile"
)

func TestHostAllocationAligned(t *testing.T) {
	for _, size := range []int{4, 12, 100, 4096, 1 << 20} {
		s, err := HostAllocator{}.Allocate(size, CPU)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", size, err)
		}
		if s.Pointer()%Alignment != 0 {
			t.Errorf("size %d: pointer %#x not %d-aligned", size, s.Pointer(), Alignment)
		}
		if len(s.Bytes()) != size || s.Strategy() != HostAligned {
			t.Errorf("size %d: len=%d strategy=%s", size, len(s.Bytes()), s.Strategy())
		}
		s.Release()
	}
}

func TestHostAllocatorRejectsGPU(t *testing.T) {
	if _, err := (HostAllocator{}).Allocate(16, GPU); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestStorageReleaseOnce(t *testing.T) {
	calls := 0
	data := AlignedFloat32s(4)
	v, err := FromData(data, Shape{4}, func() { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	s := v.Storage()
	if !s.Wrapped() {
		t.Fatal("FromData storage should be wrapped")
	}
	if err := s.Retain(); err != nil {
		t.Fatal(err)
	}
	if s.RefCount() != 2 {
		t.Fatalf("refs = %d, want 2", s.RefCount())
	}

	v.Release()
	v.Release() // no-op
	if calls != 0 {
		t.Fatal("freed while referenced")
	}
	s.Release()
	if calls != 1 || !s.Freed() {
		t.Fatalf("release callback calls = %d, freed = %v", calls, s.Freed())
	}
	s.Release()
	if calls != 1 {
		t.Fatal("double free")
	}
	if err := s.Retain(); !errors.Is(err, ErrReleased) {
		t.Fatalf("Retain after free err = %v", err)
	}
}

func TestConcurrentRetainRelease(t *testing.T) {
	s, err := HostAllocator{}.Allocate(64, CPU)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if err := s.Retain(); err != nil {
					t.Error(err)
					return
				}
				s.Release()
			}
		}()
	}
	wg.Wait()
	if s.RefCount() != 1 || s.Freed() {
		t.Fatalf("refs = %d freed = %v", s.RefCount(), s.Freed())
	}
	s.Release()
	if !s.Freed() {
		t.Fatal("not freed at zero")
	}
}

func TestChooseStrategy(t *testing.T) {
	tests := []struct {
		dev  Device
		size int
		want Strategy
	}{
		{CPU, 1 << 30, HostAligned},
		{GPU, 1024, GPUShared},
		{GPU, DefaultLargeBufferThreshold - 1, GPUShared},
		{GPU, DefaultLargeBufferThreshold, GPUPurgeable},
	}
	for _, tt := range tests {
		if got := ChooseStrategy(tt.dev, tt.size, DefaultLargeBufferThreshold); got != tt.want {
			t.Errorf("ChooseStrategy(%s, %d) = %s, want %s", tt.dev, tt.size, got, tt.want)
		}
	}
}

func TestGPUAllocator(t *testing.T) {
	acc := gputest.New()
	alloc := NewGPUAllocator(acc, 1024)

	small, err := alloc.Allocate(512, GPU)
	if err != nil {
		t.Fatal(err)
	}
	large, err := alloc.Allocate(2048, GPU)
	if err != nil {
		t.Fatal(err)
	}
	if small.Strategy() != GPUShared || small.Buffer().Purgeable() {
		t.Errorf("small: %s purgeable=%v", small.Strategy(), small.Buffer().Purgeable())
	}
	if large.Strategy() != GPUPurgeable || !large.Buffer().Purgeable() {
		t.Errorf("large: %s purgeable=%v", large.Strategy(), large.Buffer().Purgeable())
	}
	small.Release()
	large.Release()
	if acc.LiveBuffers() != 0 {
		t.Fatalf("live buffers = %d", acc.LiveBuffers())
	}
}

func TestGPUAllocatorWithoutDevice(t *testing.T) {
	_, err := NewGPUAllocator(nil, 0).Allocate(16, GPU)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if Classify(err) != Retryable {
		t.Fatalf("class = %s", Classify(err))
	}
}

func TestFromDataRejectsMisaligned(t *testing.T) {
	data := AlignedFloat32s(5)
	if _, err := FromData(data[1:], Shape{4}, nil); !errors.Is(err, ErrMisaligned) {
		t.Fatalf("err = %v, want ErrMisaligned", err)
	}
	if _, err := FromData(data, Shape{4}, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
	if uintptr(unsafe.Pointer(&data[0]))%Alignment != 0 {
		t.Fatal("AlignedFloat32s not aligned")
	}
}

func TestFromDataZeroCopy(t *testing.T) {
	data := AlignedFloat32s(3)
	v, err := FromData(data, Shape{3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()
	data[1] = 42
	if got, _ := v.At(1); got != 42 {
		t.Fatalf("At(1) = %v, want 42", got)
	}
	if v.DataPointer() != uintptr(unsafe.Pointer(&data[0])) {
		t.Fatal("DataPointer does not address caller memory")
	}
}

func TestAllocFreeBalance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balance.log")
	old := profile.LogPath()
	profile.SetLogPath(path)
	profile.Override(true)
	t.Cleanup(func() {
		profile.SetLogPath(old)
		profile.Reset()
	})

	const n = 100000
	for i := 0; i < n; i++ {
		v, err := Empty(HostAllocator{}, Shape{16}, Float32, CPU)
		if err != nil {
			t.Fatal(err)
		}
		v.Release()
	}
	profile.Reset()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Count by label so cleanups of unrelated tensors cannot skew totals.
	balance := make(map[string]int)
	allocs, frees := 0, 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		switch fields[0] {
		case "alloc":
			allocs++
			balance[fields[1]]++
		case "free":
			if _, ok := balance[fields[1]]; ok {
				frees++
				balance[fields[1]]--
			}
		}
	}
	if allocs != n || frees != n {
		t.Fatalf("allocs = %d frees = %d, want %d each", allocs, frees, n)
	}
	for label, b := range balance {
		if b != 0 {
			t.Fatalf("label %s unbalanced by %d", label, b)
		}
	}
	for _, e := range profile.Live() {
		if _, ok := balance[e.Label]; ok {
			t.Fatalf("%s still live", e.Label)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{nil, NoError},
		{ErrKernelUnavailable, Retryable},
		{shapef("x"), SoftFail},
		{invalidf("x"), SoftFail},
		{ErrMisaligned, SoftFail},
		{ErrDivisionByZero, HardFail},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
