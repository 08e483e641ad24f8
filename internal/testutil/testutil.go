// Package testutil builds FSD fixtures and byte sources for tests.
package testutil

import (
	"io"
	"sync/atomic"
)

// MockByteSource implements an in-memory io.ReaderAt that counts reads.
type MockByteSource struct {
	data  []byte
	reads atomic.Int64
	bytes atomic.Int64
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	m.bytes.Add(int64(n))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// Reads returns the number of ReadAt calls so far.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// BytesRead returns the number of bytes copied out so far.
func (m *MockByteSource) BytesRead() int64 {
	return m.bytes.Load()
}

// ResetCounters zeroes the read counters.
func (m *MockByteSource) ResetCounters() {
	m.reads.Store(0)
	m.bytes.Store(0)
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}
