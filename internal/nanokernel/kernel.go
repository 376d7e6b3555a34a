// Package nanokernel implements the packet kernel shim: the function
// kernel (wraps a single user callback) and the channel kernel (wraps the
// ingress/egress of a pipeline graph), per spec §4.12.
package nanokernel

import (
	"time"

	"github.com/behrlich/nanotube/internal/logging"
	"github.com/behrlich/nanotube/internal/nanochan"
	"github.com/behrlich/nanotube/internal/nanopacket"
	"github.com/behrlich/nanotube/internal/nanorun"
)

// Verdict is the user kernel function's return code.
type Verdict int

const (
	Pass Verdict = iota
	Drop
)

// Func is the user packet-kernel entry point (spec §6 "Packet kernel
// entry"): a function with signature (context, packet) -> verdict.
type Func func(ctx any, p *nanopacket.Packet) Verdict

// FunctionKernel wraps a user Func, converting the packet to the kernel's
// requested bus framing (or plain Ethernet if the kernel is not
// capsule-aware) before invoking it, and converting back, per spec §4.12.
type FunctionKernel struct {
	Bus          nanopacket.Bus
	CapsuleAware bool
	Fn           Func
	Logger       *logging.Logger
}

// Process converts p into the kernel's working framing, invokes Fn exactly
// once, converts the result back to p's original framing, and returns the
// verdict.
func (k *FunctionKernel) Process(ctx any, p *nanopacket.Packet) Verdict {
	workingBus := nanopacket.BusETH
	if k.CapsuleAware {
		workingBus = k.Bus
	}

	originalBus := p.Bus
	words := p.ToBusWords(workingBus)
	working := nanopacket.FromBusWords(workingBus, words, len(p.Header), len(p.Body))
	working.PortID = p.PortID

	verdict := k.Fn(ctx, working)

	backWords := working.ToBusWords(originalBus)
	reconverted := nanopacket.FromBusWords(originalBus, backWords, len(working.Header), len(working.Body))
	*p = *reconverted
	p.Bus = originalBus

	return verdict
}

// ChannelKernel wraps the ingress/egress of a pipeline graph: Process
// chops a packet into bus words and writes them to the ingress channel;
// Poll reads from the egress channel and reassembles a packet; Flush waits
// (bounded by a timeout) until the whole graph is idle, polling the
// egress channel meanwhile.
//
// Ingress and Egress elements each hold one bus word plus two bytes of
// framing the raw channel payload has no room for: an EOP flag and an
// empty-byte count for the final word of a packet (nanopacket.BusWord's
// own fields), so a multi-word packet round-trips through the channel
// without losing its word boundaries.
type ChannelKernel struct {
	Ingress *nanochan.Channel
	Egress  *nanochan.Channel
	Bus     nanopacket.Bus

	IngressThread *nanorun.Thread
	EgressThread  *nanorun.Thread

	idle   *nanorun.IdleWaiter
	logger *logging.Logger
}

// ChannelElementSize returns the fixed channel element size a ChannelKernel
// needs for bus: one word plus the EOP/empty-byte trailer.
func ChannelElementSize(bus nanopacket.Bus) int {
	return bus.WordWidth() + 2
}

// NewChannelKernel wires a kernel shim around a pre-built ingress/egress
// channel pair, per spec §4.13's "vector of packet-kernel shims". Both
// channels must be sized via ChannelElementSize(bus).
func NewChannelKernel(ingress, egress *nanochan.Channel, bus nanopacket.Bus, idle *nanorun.IdleWaiter, logger *logging.Logger) *ChannelKernel {
	want := ChannelElementSize(bus)
	if ingress.ElementSize() != want || egress.ElementSize() != want {
		nanorun.Fatal("nanokernel: channel element size mismatch for bus %v: want %d, got ingress=%d egress=%d",
			bus, want, ingress.ElementSize(), egress.ElementSize())
	}
	return &ChannelKernel{Ingress: ingress, Egress: egress, Bus: bus, idle: idle, logger: logger}
}

// encodeWord packs a bus word's data plus its EOP/empty-byte trailer into
// one channel element.
func encodeWord(w nanopacket.BusWord, elemSize int) []byte {
	width := elemSize - 2
	payload := make([]byte, elemSize)
	copy(payload, w.Data)
	if w.EOP {
		payload[width] = 1
	}
	payload[width+1] = byte(w.EmptyBytes)
	return payload
}

// decodeWord unpacks a channel element back into a bus word.
func decodeWord(payload []byte) nanopacket.BusWord {
	width := len(payload) - 2
	return nanopacket.BusWord{
		Data:       append([]byte(nil), payload[:width]...),
		EOP:        payload[width] != 0,
		EmptyBytes: int(payload[width+1]),
	}
}

// Process chops p into bus words sized to the ingress channel's element
// size and blocking-writes them, using t (which must be the ingress
// channel's bound writer thread).
func (k *ChannelKernel) Process(t *nanorun.Thread, p *nanopacket.Packet) {
	words := p.ToBusWords(k.Bus)
	elemSize := k.Ingress.ElementSize()
	for _, w := range words {
		k.Ingress.Write(t, encodeWord(w, elemSize))
	}
}

// Poll tries to read bus words from the egress channel without blocking,
// reassembling a complete packet once an EOP word is observed. Returns
// (packet, true) only when a full multi-word packet has been reassembled;
// returns (nil, false) immediately if the channel is empty before any EOP
// word arrives, so callers can keep polling alongside other work.
func (k *ChannelKernel) Poll(headerLen, bodyLen int) (*nanopacket.Packet, bool) {
	elemSize := k.Egress.ElementSize()
	buf := make([]byte, elemSize)
	var words []nanopacket.BusWord
	for {
		if !k.Egress.TryRead(buf) {
			return nil, false
		}
		w := decodeWord(buf)
		words = append(words, w)
		if w.EOP {
			break
		}
	}
	p := nanopacket.FromBusWords(k.Bus, words, headerLen, bodyLen)
	return p, true
}

// Flush waits, bounded by timeout, until the entire graph monitored by the
// idle waiter is idle, polling the egress channel meanwhile via poll.
func (k *ChannelKernel) Flush(t *nanorun.Thread, timeout time.Duration, poll func()) bool {
	deadline := t.InitTimer(timeout)
	for !k.idle.IsIdle() {
		if t.CheckTimer(deadline) {
			return false
		}
		poll()
		t.Sleep()
	}
	return true
}
