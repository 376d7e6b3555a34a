// Package nanochan implements the engine's single-producer/single-consumer
// byte channel: a ring of fixed-size elements with lock-free try_read/
// try_write and a blocking variant built on the nanorun sleep/wake contract.
package nanochan

import (
	"sync/atomic"

	"github.com/behrlich/nanotube/internal/logging"
	"github.com/behrlich/nanotube/internal/nanorun"
)

// Direction distinguishes the reader and writer ends of a channel for
// Context registration (nanoctx).
type Direction int

const (
	Read Direction = iota
	Write
)

// waitReader/waitWriter are the two bits of the wait-flags word.
const (
	waitReader uint32 = 1 << 0
	waitWriter uint32 = 1 << 1
)

// BusType records the export framing a channel's packets are encoded in,
// carried opaquely by the channel and consumed by the packet kernel (module
// L) when converting between bus framings.
type BusType int

const (
	BusUnspecified BusType = iota
	BusETH
	BusSimpleBus
	BusSoftHubBus
	BusX3RX
)

// ChannelStats is a point-in-time snapshot for observability, grounded in
// the teacher's metrics.go counters.
type ChannelStats struct {
	Capacity int
	Filled   int
}

// Channel is a bounded ring of N elements of E bytes each. The index space
// is 2*N*E: an index is a byte offset (always a multiple of E) plus N*E on
// every other lap, a wrap-parity flag distinguishing "empty" from "full"
// when offsets coincide.
type Channel struct {
	name string

	elemSize int
	numElems int
	mask     uint64 // numElems*elemSize - 1, the largest byte offset
	wrapBit  uint64 // numElems*elemSize, the parity term

	buf []byte

	readIdx  atomic.Uint64
	writeIdx atomic.Uint64

	waitFlags atomic.Uint32

	readerThread *nanorun.Thread
	writerThread *nanorun.Thread

	bus          BusType
	sidebandSize int

	logger *logging.Logger
}

// New creates a channel holding numElems slots of elemSize bytes.
func New(name string, elemSize, numElems int, bus BusType, sidebandSize int, logger *logging.Logger) *Channel {
	if elemSize <= 0 || numElems <= 0 {
		nanorun.Fatal("nanochan %q: invalid dimensions elemSize=%d numElems=%d", name, elemSize, numElems)
	}
	span := uint64(elemSize) * uint64(numElems)
	c := &Channel{
		name:         name,
		elemSize:     elemSize,
		numElems:     numElems,
		mask:         span - 1,
		wrapBit:      span,
		buf:          make([]byte, span),
		bus:          bus,
		sidebandSize: sidebandSize,
		logger:       logger,
	}
	return c
}

// Name returns the channel's name, set at construction.
func (c *Channel) Name() string { return c.name }

// SidebandSize returns the opaque side-band byte count carried by the
// channel, if any.
func (c *Channel) SidebandSize() int { return c.sidebandSize }

// Bus returns the export bus framing.
func (c *Channel) Bus() BusType { return c.bus }

// Stats returns a point-in-time snapshot of occupancy.
func (c *Channel) Stats() ChannelStats {
	r := c.readIdx.Load()
	w := c.writeIdx.Load()
	filled := int(distance(r, w, c.wrapBit)) / c.elemSize
	return ChannelStats{Capacity: c.numElems, Filled: filled}
}

// BindReader/BindWriter are called by nanoctx.Context.AddChannel to wire the
// channel's wake targets. Each may only be set once; the spec requires the
// reader/writer references to be wired before any thread starts.
func (c *Channel) BindReader(t *nanorun.Thread) {
	if c.readerThread != nil {
		nanorun.Fatal("nanochan %q: reader already bound", c.name)
	}
	c.readerThread = t
}

func (c *Channel) BindWriter(t *nanorun.Thread) {
	if c.writerThread != nil {
		nanorun.Fatal("nanochan %q: writer already bound", c.name)
	}
	c.writerThread = t
}

// offset extracts the byte offset from an encoded index.
func offset(idx, mask uint64) uint64 { return idx % (mask + 1) }

// wrap extracts the parity term (0 or wrapBit) from an encoded index.
func wrap(idx, wrapBit uint64) uint64 {
	if idx >= wrapBit {
		return wrapBit
	}
	return 0
}

// distance returns how many bytes separate w from r, accounting for the
// wrap-parity bit, i.e. how full the ring currently is.
func distance(r, w, wrapBit uint64) uint64 {
	mask := wrapBit - 1
	ro, wo := offset(r, mask), offset(w, mask)
	if wo > ro {
		return wo - ro
	}
	if wo < ro {
		return wrapBit - (ro - wo)
	}
	// wo == ro: either empty (parities equal) or full (parities differ).
	if wrap(r, wrapBit) != wrap(w, wrapBit) {
		return wrapBit
	}
	return 0
}

// advance bumps idx by elemSize bytes, flipping the wrap bit and wrapping
// the offset back to zero when it passes the end of the buffer.
func advance(idx uint64, elemSize int, mask, wrapBit uint64) uint64 {
	o := offset(idx, mask) + uint64(elemSize)
	w := wrap(idx, wrapBit)
	if o > mask {
		o = 0
		w ^= wrapBit
	}
	return o + w
}

// isEmpty reports R == W.
func (c *Channel) isEmpty(r, w uint64) bool { return r == w }

// isFull reports equal offsets with opposite wrap parity.
func (c *Channel) isFull(r, w uint64) bool {
	return offset(r, c.mask) == offset(w, c.mask) && wrap(r, c.wrapBit) != wrap(w, c.wrapBit)
}

// HasSpace reports whether the ring has room for one more element from the
// writer's perspective. If full, it latches the writer wait-flag, then
// re-checks in case a concurrent read already freed space (the
// double-check required by the memory-ordering contract).
func (c *Channel) HasSpace() bool {
	w := c.writeIdx.Load()
	r := c.readIdx.Load()
	if !c.isFull(r, w) {
		return true
	}

	for {
		flags := c.waitFlags.Load()
		if flags&waitWriter != 0 {
			break
		}
		if c.waitFlags.CompareAndSwap(flags, flags|waitWriter) {
			break
		}
	}

	r = c.readIdx.Load()
	return !c.isFull(r, w)
}

// TryWrite copies data (which must be exactly elemSize bytes) into the
// ring's next slot, returning false without side effects if the ring is
// full.
func (c *Channel) TryWrite(data []byte) bool {
	if len(data) != c.elemSize {
		nanorun.Fatal("nanochan %q: TryWrite size %d != element size %d", c.name, len(data), c.elemSize)
	}
	if !c.HasSpace() {
		return false
	}

	w := c.writeIdx.Load()
	o := offset(w, c.mask)
	copy(c.buf[o:o+uint64(c.elemSize)], data)

	next := advance(w, c.elemSize, c.mask, c.wrapBit)
	c.writeIdx.Store(next)

	flags := c.waitFlags.Swap(0)
	if flags&waitReader != 0 && c.readerThread != nil {
		c.readerThread.Wake()
	}
	return true
}

// TryRead copies the next slot into data (which must be exactly elemSize
// bytes), returning false and zero-filling data if the ring is empty.
func (c *Channel) TryRead(data []byte) bool {
	if len(data) != c.elemSize {
		nanorun.Fatal("nanochan %q: TryRead size %d != element size %d", c.name, len(data), c.elemSize)
	}

	r := c.readIdx.Load()
	w := c.writeIdx.Load()
	if c.isEmpty(r, w) {
		for {
			flags := c.waitFlags.Load()
			if flags&waitReader != 0 {
				break
			}
			if c.waitFlags.CompareAndSwap(flags, flags|waitReader) {
				break
			}
		}
		w = c.writeIdx.Load()
		if c.isEmpty(r, w) {
			for i := range data {
				data[i] = 0
			}
			return false
		}
	}

	o := offset(r, c.mask)
	copy(data, c.buf[o:o+uint64(c.elemSize)])

	next := advance(r, c.elemSize, c.mask, c.wrapBit)
	c.readIdx.Store(next)

	flags := c.waitFlags.Swap(0)
	if flags&waitWriter != 0 && c.writerThread != nil {
		c.writerThread.Wake()
	}
	return true
}

// Write blocks, via the writer thread's Sleep/Wake contract, until the
// element is written. t must be the writer's own thread.
func (c *Channel) Write(t *nanorun.Thread, data []byte) {
	for !c.TryWrite(data) {
		t.Sleep()
	}
}

// Read blocks, via the reader thread's Sleep/Wake contract, until an
// element is available. t must be the reader's own thread.
func (c *Channel) Read(t *nanorun.Thread, data []byte) {
	for !c.TryRead(data) {
		t.Sleep()
	}
}

// ElementSize returns E, the fixed per-element byte size.
func (c *Channel) ElementSize() int { return c.elemSize }

// Capacity returns N, the number of element slots.
func (c *Channel) Capacity() int { return c.numElems }
