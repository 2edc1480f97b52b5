// Package memory models the debuggee's address space as an injected read-only
// capability. The decoder never talks to a process directly; it is handed a
// Source by whoever owns the debugging session.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WordSize is the size of a pointer-sized word in the target, in bytes.
// Targets are assumed to be 64-bit little-endian.
const WordSize = 8

// Source is a read-only view of a debuggee's memory.
type Source interface {
	// ReadAt reads n bytes starting at addr. A rejected read (unmapped page,
	// detached process) fails with *UnreadableError.
	ReadAt(addr uint64, n int) ([]byte, error)
}

// UnreadableError reports a memory read the debuggee rejected. It is never
// retried: the target's memory state is outside this package's control.
type UnreadableError struct {
	Addr uint64
	Len  int
	Err  error
}

func (e *UnreadableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable memory at 0x%x (%d bytes): %v", e.Addr, e.Len, e.Err)
	}
	return fmt.Sprintf("unreadable memory at 0x%x (%d bytes)", e.Addr, e.Len)
}

func (e *UnreadableError) Unwrap() error {
	return e.Err
}

// IsUnreadable reports whether err is (or wraps) an UnreadableError.
func IsUnreadable(err error) bool {
	var ue *UnreadableError
	return errors.As(err, &ue)
}

// Word decodes a little-endian pointer-sized word. b must hold at least
// WordSize bytes.
func Word(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// ReadWord reads one pointer-sized word at addr.
func ReadWord(src Source, addr uint64) (uint64, error) {
	b, err := src.ReadAt(addr, WordSize)
	if err != nil {
		return 0, err
	}
	return Word(b), nil
}
