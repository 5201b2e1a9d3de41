package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultDir is where named segments live in production. Tests and the
// scheduler override it through configuration.
const DefaultDir = "/dev/shm"

// Word 0 of every segment is a cross-process spinlock; the body starts at
// headerSize so all fields stay 4-byte aligned.
const headerSize = 8

const maxNameLen = 240

var (
	ErrInvalidName  = errors.New("segment name must be alphanumeric or underscore")
	ErrNotConnected = errors.New("segment is not mapped")
)

// Segment is one named shared-memory block: a file under dir mapped with
// MAP_SHARED, guarded by an atomic CAS lock in its first word. The process
// that Allocates a segment owns its lifecycle and is the only one allowed
// to Free it; peers Connect and Disconnect.
type Segment struct {
	name  string
	path  string
	data  []byte
	owner bool
}

// ValidateName enforces the segment naming contract: alphanumeric plus
// underscore, bounded so derived names with suffixes still fit.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Allocate creates the named segment: exclusive create, truncate to size,
// map. A fresh mapping is zero-filled, which doubles as mutex init.
func Allocate(dir, name string, bodySize int) (*Segment, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", name, err)
	}
	defer unix.Close(fd)

	size := headerSize + bodySize
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("size segment %s: %w", name, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("map segment %s: %w", name, err)
	}
	return &Segment{name: name, path: path, data: data, owner: true}, nil
}

// Connect maps an already allocated segment. It never creates or resizes;
// connecting to a name that was never allocated fails.
func Connect(dir, name string, bodySize int) (*Segment, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", name, err)
	}
	defer unix.Close(fd)

	size := headerSize + bodySize
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat segment %s: %w", name, err)
	}
	if st.Size < int64(size) {
		return nil, fmt.Errorf("segment %s is %d bytes, need %d", name, st.Size, size)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map segment %s: %w", name, err)
	}
	return &Segment{name: name, path: path, data: data}, nil
}

// Name returns the OS-visible segment name.
func (s *Segment) Name() string {
	return s.name
}

// Init zeroes the body and releases the lock word. Only the allocating
// process calls it, before any peer connects.
func (s *Segment) Init() {
	for i := range s.data {
		s.data[i] = 0
	}
}

// Lock spins on the embedded cross-process lock word. Segment locks are
// only ever held for a field read/write burst, so contention is short.
func (s *Segment) Lock() {
	word := s.lockWord()
	for spins := 0; !atomic.CompareAndSwapUint32(word, 0, 1); spins++ {
		if spins < 100 {
			runtime.Gosched()
			continue
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// Unlock releases the embedded lock word.
func (s *Segment) Unlock() {
	atomic.StoreUint32(s.lockWord(), 0)
}

// Disconnect unmaps without destroying, for processes that do not own the
// segment.
func (s *Segment) Disconnect() error {
	if s.data == nil {
		return ErrNotConnected
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// Free unmaps and unlinks the OS object. The scheduler calls it exactly
// once per name per instance run.
func (s *Segment) Free() error {
	if s.data == nil {
		return ErrNotConnected
	}
	unmapErr := unix.Munmap(s.data)
	s.data = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return unmapErr
}

func (s *Segment) lockWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.data[0]))
}

func (s *Segment) body() []byte {
	return s.data[headerSize:]
}
