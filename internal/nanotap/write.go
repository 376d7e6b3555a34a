package nanotap

// WriteRequest is the per-packet write request to WriteTap.Step.
type WriteRequest struct {
	Valid       bool
	WriteOffset int
	WriteLength int
	Data        []byte // up to RB bytes to overlay
	Mask        []byte // one bit per byte of Data
}

// WriteState is the opaque per-packet state carried across Step calls.
type WriteState struct {
	packetOffset int
}

// Reset reinitializes state for the next packet.
func (s *WriteState) Reset() { *s = WriteState{} }

// WriteTap implements spec §4.9: overlays up to RB request bytes, gated by
// a per-byte mask, onto a contiguous packet region of length
// req.WriteLength starting at req.WriteOffset, called once per bus word.
// It mutates word in place and returns it for convenience.
type WriteTap struct{}

// rotBufLen picks the rotation-buffer length per §4.9 step 3: the larger
// of the smallest power of two >= rb and the word size.
func rotBufLen(rb, wordLen int) int {
	p := 1
	for p < rb {
		p <<= 1
	}
	if p < wordLen {
		return wordLen
	}
	return p
}

// Step processes one bus word against state and req.
func (WriteTap) Step(state *WriteState, word []byte, eop bool, req WriteRequest) []byte {
	wordStart := state.packetOffset
	wordEnd := wordStart + len(word)
	defer func() {
		if eop {
			state.Reset()
		} else {
			state.packetOffset = wordEnd
		}
	}()

	if !req.Valid {
		return word
	}

	fragStart := req.WriteOffset - wordStart
	if fragStart < 0 {
		fragStart = 0
	}
	if fragStart > len(word) {
		fragStart = len(word)
	}
	fragEnd := req.WriteOffset + req.WriteLength - wordStart
	if fragEnd < 0 {
		fragEnd = 0
	}
	if fragEnd > len(word) {
		fragEnd = len(word)
	}
	if fragEnd < fragStart {
		fragEnd = fragStart
	}

	rb := len(req.Data)
	rl := rotBufLen(rb, len(word))

	// Rotation amount: how far into req.Data the bytes landing at
	// wordStart currently sit. req.WriteOffset is where Data[0] lands;
	// Data byte i lands at packet offset req.WriteOffset+i, so the byte
	// landing at this word's start is Data[wordStart-req.WriteOffset].
	rotAmt := ((wordStart - req.WriteOffset) % rl + rl) % rl
	rotatedData := RotateDown(req.Data, len(word), rl, rotAmt)

	// Duplicate the mask bits so a bit-rotation by up to rl bits never
	// wraps into garbage (spec §8(12)/§4.9 step 5), then read the
	// rotated window directly: rotating a byte-rotate-by-rotAmt/8 plus a
	// residual shift-by-rotAmt%8 is behaviourally a single bit-rotate-down
	// by rotAmt bits, which DuplicateBits was built to support.
	dup := DuplicateBits(req.Mask, rb, rl)
	rotatedMaskBits := make([]byte, (len(word)+7)/8)
	for i := 0; i < len(word); i++ {
		if bitAt(dup, i+rotAmt) {
			setBit(rotatedMaskBits, i)
		}
	}

	for i := range word {
		if Classify(i, fragStart, fragEnd) != In {
			continue
		}
		if bitAt(rotatedMaskBits, i) && i < len(rotatedData) {
			word[i] = rotatedData[i]
		}
	}
	return word
}
