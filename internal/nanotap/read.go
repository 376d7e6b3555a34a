package nanotap

// ReadRequest is the per-packet read request to ReadTap.Step.
type ReadRequest struct {
	Valid      bool
	ReadOffset int
	ReadLength int
}

// ReadResponse is the per-word response from ReadTap.Step.
type ReadResponse struct {
	Valid        bool
	ResultLength int
}

// ReadState is the opaque per-packet state carried across Step calls.
type ReadState struct {
	packetOffset int
	resultOffset int
	started      bool
	done         bool
}

// Reset reinitializes state for the next packet.
func (s *ReadState) Reset() { *s = ReadState{} }

// ReadTap implements spec §4.8: copies req.ReadLength contiguous packet
// bytes starting at req.ReadOffset into result (length RB = len(result)),
// called once per bus word.
type ReadTap struct{}

// Step processes one bus word (word, this word's valid bytes) against
// state and req, writing into result (which the caller must size to RB
// and preserve across calls within a packet — BEFORE bytes are preserved,
// not overwritten).
//
// The rotation amount is recomputed each word as max(0, read_offset -
// word_start) clamped into the word, rather than literally latching the
// first word's rotation amount as the schematic spec prose describes:
// latching the raw value produces wrong alignment once the read point has
// moved into a later word, since each full word starts at its own offset
// zero. Recomputing preserves the same single byte-rotator primitive
// (RotateDown) and satisfies the read round-trip invariant (spec §8.6) for
// reads spanning any number of words.
func (ReadTap) Step(state *ReadState, word []byte, eop bool, req ReadRequest, result []byte) ReadResponse {
	wordStart := state.packetOffset
	wordEnd := wordStart + len(word)

	startedRead := req.Valid && req.ReadOffset < wordEnd
	if startedRead {
		state.started = true
	}

	rot := 0
	if req.ReadOffset > wordStart {
		rot = req.ReadOffset - wordStart
		if rot > len(word) {
			rot = len(word)
		}
	}

	rotated := RotateDown(word, len(word), len(word), rot)

	resultStart := state.resultOffset
	maxFragmentLen := len(word) - rot
	if maxFragmentLen < 0 {
		maxFragmentLen = 0
	}
	resultEnd := resultStart + maxFragmentLen
	if resultEnd > req.ReadLength {
		resultEnd = req.ReadLength
	}
	if resultEnd > len(result) {
		resultEnd = len(result)
	}
	if resultEnd < resultStart {
		resultEnd = resultStart
	}

	if state.started {
		for i := 0; i < len(result); i++ {
			switch Classify(i, resultStart, resultEnd) {
			case Before:
				// preserve
			case In:
				srcIdx := i - resultStart
				if srcIdx < len(rotated) {
					result[i] = rotated[srcIdx]
				}
			case After:
				result[i] = 0
			}
		}
	}

	isDone := (req.Valid && resultEnd >= req.ReadLength) || eop
	resp := ReadResponse{}
	resp.Valid = isDone && !state.done
	resp.ResultLength = resultEnd

	if resp.Valid {
		state.done = true
	}
	state.resultOffset = resultEnd
	if eop {
		state.Reset()
	} else {
		state.packetOffset = wordEnd
	}
	return resp
}
