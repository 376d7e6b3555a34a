package nanopacket

// Bus identifies an export bus framing. The conforming-implementation
// choice per spec §1 is to support all three real bus flavours plus plain
// Ethernet, parameterized over one typed enum rather than separate
// per-bus entry points (see DESIGN.md's resolution of the
// resize_egress_sb open question).
type Bus int

const (
	BusETH Bus = iota
	BusSimpleBus
	BusSoftHubBus
	BusX3RX
)

// wordWidth is the fixed data-byte width per bus word for each framing.
func (b Bus) wordWidth() int {
	switch b {
	case BusETH:
		return 8
	case BusSimpleBus:
		return 8
	case BusSoftHubBus:
		return 32
	case BusX3RX:
		return 64
	default:
		return 8
	}
}

// WordWidth exposes wordWidth for callers outside this package that need
// to size a transport (e.g. a channel element) to hold exactly one word.
func (b Bus) WordWidth() int { return b.wordWidth() }

// hasSideband reports whether this bus carries TKEEP/TSTRB/TLAST-style
// side-band signals (spec §6).
func (b Bus) hasSideband() bool {
	return b == BusSoftHubBus || b == BusX3RX
}

// Sideband carries the optional TKEEP/TSTRB/TLAST-style signals spec §6
// names for softhub/x3rx framings. A BusWord without side-band support
// leaves this nil so plain ETH/simple-bus words pay nothing extra.
type Sideband struct {
	TKeep uint64
	TStrb uint64
	TLast bool
}

// BusWord is one fixed-width slice of a packet as it crosses a tap, per
// the GLOSSARY.
type BusWord struct {
	Data       []byte
	EOP        bool
	EmptyBytes int // valid only on the EOP word: count of trailing pad bytes
	Error      bool
	Sideband   *Sideband
}

// busAdvance centralizes the per-bus packet_offset update described in
// spec §9's open question ("implementations should centralise the
// packet-offset update per bus in a single helper to avoid divergence").
// For softhub framing the offset advances on every word; for
// simple-bus/x3rx/eth it advances only according to the EOP/valid-byte
// flags of the word just consumed.
func busAdvance(bus Bus, offset int, w BusWord) int {
	width := bus.wordWidth()
	switch bus {
	case BusSoftHubBus:
		return offset + width
	default:
		valid := width
		if w.EOP {
			valid = width - w.EmptyBytes
		}
		return offset + valid
	}
}
