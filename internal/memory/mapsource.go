package memory

import (
	"encoding/binary"
)

// MapSource is an in-process Source over a sparse byte map. It backs tests and
// examples; any address not explicitly populated reads as unmapped.
type MapSource struct {
	bytes map[uint64]byte
}

// NewMapSource creates an empty map-backed memory source.
func NewMapSource() *MapSource {
	return &MapSource{
		bytes: make(map[uint64]byte),
	}
}

// PutBytes maps b starting at addr.
func (m *MapSource) PutBytes(addr uint64, b []byte) {
	for i, c := range b {
		m.bytes[addr+uint64(i)] = c
	}
}

// PutWord maps a little-endian pointer-sized word at addr.
func (m *MapSource) PutWord(addr uint64, v uint64) {
	var b [WordSize]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.PutBytes(addr, b[:])
}

// PutCString maps s at addr followed by a NUL terminator.
func (m *MapSource) PutCString(addr uint64, s string) {
	m.PutBytes(addr, append([]byte(s), 0))
}

// Unmap removes n bytes starting at addr, so later reads of them fail.
func (m *MapSource) Unmap(addr uint64, n int) {
	for i := 0; i < n; i++ {
		delete(m.bytes, addr+uint64(i))
	}
}

// ReadAt implements Source. The whole range must be mapped or the read fails.
func (m *MapSource) ReadAt(addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, &UnreadableError{Addr: addr, Len: n}
	}

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		c, ok := m.bytes[addr+uint64(i)]
		if !ok {
			return nil, &UnreadableError{Addr: addr + uint64(i), Len: n - i}
		}
		out[i] = c
	}

	return out, nil
}
