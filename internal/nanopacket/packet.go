// Package nanopacket implements the Packet object: a length-annotated byte
// sequence with metadata/header, body, and capsule sections, current bus
// framing, and lossless conversion to/from fixed-width bus words.
package nanopacket

// Packet is a length-annotated byte sequence with three logical sections
// per spec §3.7: metadata/header, body (Ethernet payload), and a trailing
// capsule/control area.
type Packet struct {
	Header  []byte
	Body    []byte
	Capsule []byte

	Bus    Bus
	PortID int
}

// New creates an empty packet on the given bus with no port assigned.
func New(bus Bus) *Packet {
	return &Packet{Bus: bus}
}

// Len returns the total byte length across all three sections.
func (p *Packet) Len() int {
	return len(p.Header) + len(p.Body) + len(p.Capsule)
}

// bytes returns the packet's sections concatenated in on-wire order:
// header, body, capsule.
func (p *Packet) bytes() []byte {
	out := make([]byte, 0, p.Len())
	out = append(out, p.Header...)
	out = append(out, p.Body...)
	out = append(out, p.Capsule...)
	return out
}

// setBytes splits flat back into the packet's three sections using the
// current section lengths as the split points (the framing conversions in
// this package never change section boundaries, only word layout).
func (p *Packet) setBytes(flat []byte) {
	h := len(p.Header)
	b := len(p.Body)
	p.Header = flat[:h]
	p.Body = flat[h : h+b]
	p.Capsule = flat[h+b:]
}

// ToBusWords serializes the packet into fixed-width words for bus,
// reconstructing length and EOP markers from the section sizes; framing
// can be converted losslessly for any of the four bus kinds per spec §3.7.
func (p *Packet) ToBusWords(bus Bus) []BusWord {
	flat := p.bytes()
	width := bus.wordWidth()
	total := len(flat)
	if total == 0 {
		return []BusWord{{EOP: true, EmptyBytes: width}}
	}

	numWords := (total + width - 1) / width
	words := make([]BusWord, numWords)
	for i := 0; i < numWords; i++ {
		start := i * width
		end := start + width
		if end > total {
			end = total
		}
		data := make([]byte, width)
		copy(data, flat[start:end])

		w := BusWord{Data: data}
		if i == numWords-1 {
			w.EOP = true
			w.EmptyBytes = width - (end - start)
		}
		if bus.hasSideband() {
			w.Sideband = sidebandFor(width, end-start, w.EOP)
		}
		words[i] = w
	}
	return words
}

// sidebandFor computes the TKEEP/TSTRB/TLAST bits for a word carrying
// validBytes valid bytes out of width, per spec §6.
func sidebandFor(width, validBytes int, eop bool) *Sideband {
	var keep uint64
	for i := 0; i < validBytes; i++ {
		keep |= 1 << uint(i)
	}
	return &Sideband{TKeep: keep, TStrb: keep, TLast: eop}
}

// FromBusWords reassembles a packet from a word sequence produced by
// ToBusWords (or an equivalent upstream bus source), preserving the
// section split recorded by headerLen/bodyLen; the remainder becomes the
// capsule.
func FromBusWords(bus Bus, words []BusWord, headerLen, bodyLen int) *Packet {
	width := bus.wordWidth()
	flat := make([]byte, 0, len(words)*width)
	for _, w := range words {
		n := width
		if w.EOP {
			n = width - w.EmptyBytes
		}
		if n > len(w.Data) {
			n = len(w.Data)
		}
		flat = append(flat, w.Data[:n]...)
	}

	p := &Packet{Bus: bus}
	if headerLen > len(flat) {
		headerLen = len(flat)
	}
	if headerLen+bodyLen > len(flat) {
		bodyLen = len(flat) - headerLen
	}
	p.Header = flat[:headerLen]
	p.Body = flat[headerLen : headerLen+bodyLen]
	p.Capsule = flat[headerLen+bodyLen:]
	return p
}
