package nanotube

import (
	"sync"

	"github.com/behrlich/nanotube/internal/logging"
	"github.com/behrlich/nanotube/internal/nanochan"
	"github.com/behrlich/nanotube/internal/nanomap"
	"github.com/behrlich/nanotube/internal/nanorun"
)

// MockMapBackend is a nanomap.Backend test double that records every
// Apply call for later inspection, useful for testing stages that
// dispatch map operations without wiring a real Cam/Array.
type MockMapBackend struct {
	id     uint32
	keyLen int
	valLen int
	cap    int

	// ApplyFunc, if set, is called to compute the result; otherwise
	// Apply always reports ResultAbsent with length 0.
	ApplyFunc func(op nanomap.MapOp, key, dataIn, dataOut, mask []byte, offset, length int) (int, nanomap.Result)

	mu    sync.Mutex
	calls []nanomap.MapOp
}

// NewMockMapBackend creates a mock backend with the given shape.
func NewMockMapBackend(id uint32, keyLen, valLen, capacity int) *MockMapBackend {
	return &MockMapBackend{id: id, keyLen: keyLen, valLen: valLen, cap: capacity}
}

func (m *MockMapBackend) ID() uint32             { return m.id }
func (m *MockMapBackend) Type() nanomap.BackendType { return nanomap.TypeCam }
func (m *MockMapBackend) KeyLength() int         { return m.keyLen }
func (m *MockMapBackend) ValueLength() int       { return m.valLen }
func (m *MockMapBackend) Capacity() int          { return m.cap }

// Apply records the call and delegates to ApplyFunc if set.
func (m *MockMapBackend) Apply(op nanomap.MapOp, key, dataIn, dataOut, mask []byte, offset, length int) (int, nanomap.Result) {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	m.mu.Unlock()

	if m.ApplyFunc != nil {
		return m.ApplyFunc(op, key, dataIn, dataOut, mask, offset, length)
	}
	return 0, nanomap.ResultAbsent
}

// Calls returns the sequence of ops Apply has been called with.
func (m *MockMapBackend) Calls() []nanomap.MapOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]nanomap.MapOp(nil), m.calls...)
}

var _ nanomap.Backend = (*MockMapBackend)(nil)

// LoopbackChannelPair is a single channel with its reader and writer
// threads already bound, for single-process FIFO tests that want to
// exercise Channel.Write/Read without building a whole ProcessingSystem.
type LoopbackChannelPair struct {
	Channel *nanochan.Channel
	Writer  *nanorun.Thread
	Reader  *nanorun.Thread
}

// NewLoopbackChannelPair creates a channel of the given shape with a
// writer and reader thread bound, neither started (callers drive
// TryWrite/TryRead/Write/Read directly, or call Start() themselves for
// blocking-wake tests).
func NewLoopbackChannelPair(name string, elemSize, numElems int, bus nanochan.BusType, logger *logging.Logger) *LoopbackChannelPair {
	ch := nanochan.New(name, elemSize, numElems, bus, 0, logger)
	writer := nanorun.New(name+"-writer", func(*nanorun.Thread) {}, logger)
	reader := nanorun.New(name+"-reader", func(*nanorun.Thread) {}, logger)
	ch.BindWriter(writer)
	ch.BindReader(reader)
	return &LoopbackChannelPair{Channel: ch, Writer: writer, Reader: reader}
}
