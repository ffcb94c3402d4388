// Package profile records buffer allocation diagnostics.
//
// Recording is a side channel: nothing here influences control flow of the
// allocators that call it. The on/off toggle is read from the environment
// once and cached until Reset is called.
package profile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// EnvVar enables profiling when set to 1, true or on.
const EnvVar = "ORCHARD_TENSOR_PROFILE"

// Toggle states cached in state.
const (
	unknown int32 = iota
	off
	on
)

// Entry describes one outstanding buffer.
type Entry struct {
	ID     uint64
	Label  string
	Size   int
	Ptr    uintptr
	Device string
}

var (
	state    atomic.Int32
	override atomic.Int32

	mu      sync.Mutex
	logPath = filepath.Join(os.TempDir(), "orchard_tensor_profile.log")
	logFile *os.File
	live    = make(map[uint64]Entry)
	nextID  atomic.Uint64
)

// Enabled reports whether diagnostics are on.
func Enabled() bool {
	if o := override.Load(); o != unknown {
		return o == on
	}
	s := state.Load()
	if s == unknown {
		s = off
		if parseToggle(os.Getenv(EnvVar)) {
			s = on
		}
		state.CompareAndSwap(unknown, s)
		s = state.Load()
	}
	return s == on
}

// Reset drops the cached toggle so the next check re-reads the environment.
// It also closes the log file handle.
func Reset() {
	state.Store(unknown)
	override.Store(unknown)
	mu.Lock()
	closeLogLocked()
	mu.Unlock()
}

// Override forces the toggle regardless of the environment until Reset.
func Override(enabled bool) {
	if enabled {
		override.Store(on)
		return
	}
	override.Store(off)
}

// LogPath returns the file diagnostics are appended to.
func LogPath() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// SetLogPath redirects diagnostics to path.
func SetLogPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	closeLogLocked()
	logPath = path
}

// ClearLog removes the log file if it exists.
func ClearLog() error {
	mu.Lock()
	defer mu.Unlock()
	closeLogLocked()
	if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "profile: clear log")
	}
	return nil
}

// Alloc registers a new buffer and returns its registry id.
func Alloc(label string, size int, ptr uintptr, device string) uint64 {
	id := nextID.Add(1)
	e := Entry{ID: id, Label: label, Size: size, Ptr: ptr, Device: device}

	mu.Lock()
	defer mu.Unlock()
	live[id] = e
	if Enabled() {
		writeLocked("alloc", e)
	}
	return id
}

// Free removes a buffer from the registry.
func Free(id uint64) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := live[id]
	if !ok {
		return
	}
	delete(live, id)
	if Enabled() {
		writeLocked("free", e)
	}
}

// Live returns the outstanding buffers ordered by allocation.
func Live() []Entry {
	mu.Lock()
	defer mu.Unlock()
	return snapshotLocked()
}

// LiveCount returns the number of outstanding buffers.
func LiveCount() int {
	mu.Lock()
	defer mu.Unlock()
	return len(live)
}

// DumpLive appends a live line for every outstanding buffer when enabled
// and returns the outstanding set either way.
func DumpLive() []Entry {
	mu.Lock()
	defer mu.Unlock()
	entries := snapshotLocked()
	if Enabled() {
		for _, e := range entries {
			writeLocked("live", e)
		}
	}
	return entries
}

// Format renders an entry the way it appears in the log.
func Format(event string, e Entry) string {
	return fmt.Sprintf("%s %s %d 0x%x", event, e.Label, e.Size, e.Ptr)
}

// Outstanding replays a log and returns the buffers allocated and never
// freed, in allocation order. live lines are ignored. Entry.ID is the line
// number of the alloc record.
func Outstanding(r io.Reader) ([]Entry, error) {
	open := make(map[string]Entry)
	sc := bufio.NewScanner(r)
	line := uint64(0)
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, errors.Errorf("profile: line %d: want 4 fields, got %d", line, len(fields))
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "profile: line %d: size", line)
		}
		ptr, err := strconv.ParseUint(fields[3], 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "profile: line %d: pointer", line)
		}
		e := Entry{ID: line, Label: fields[1], Size: size, Ptr: uintptr(ptr)}
		e.Device, _, _ = strings.Cut(e.Label, "-")
		switch fields[0] {
		case "alloc":
			open[e.Label] = e
		case "free":
			delete(open, e.Label)
		case "live":
		default:
			return nil, errors.Errorf("profile: line %d: unknown event %q", line, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "profile: read log")
	}
	out := make([]Entry, 0, len(open))
	for _, e := range open {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func snapshotLocked() []Entry {
	out := make([]Entry, 0, len(live))
	for _, e := range live {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func writeLocked(event string, e Entry) {
	if logFile == nil {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		logFile = f
	}
	_, _ = fmt.Fprintln(logFile, Format(event, e))
}

func closeLogLocked() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func parseToggle(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
