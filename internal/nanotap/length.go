package nanotap

// LengthRequest is the per-word request to LengthTap.Step.
type LengthRequest struct {
	Valid     bool
	MaxLength uint16
}

// LengthResponse is the per-word response from LengthTap.Step.
type LengthResponse struct {
	Valid        bool
	ResultLength uint16
}

// LengthState is the opaque per-packet state carried across Step calls,
// per spec §3.8's minimum common tap-state fields. Zero value is a valid
// initial state.
type LengthState struct {
	offset uint16
	done   bool
}

// Reset reinitializes the state for the next packet, per spec §3.8: "the
// tap updates the state to an initialised state for the next packet on
// end-of-packet."
func (s *LengthState) Reset() {
	*s = LengthState{}
}

// LengthTap implements spec §4.7: 16-bit unsigned arithmetic tracking of
// the running packet offset, producing a valid response exactly once per
// packet when the length is known (either at EOP, or when a requested cap
// is reached).
type LengthTap struct{}

// Step processes one bus word against state, given the word's EOP flag and
// valid byte count, per spec §4.7.
func (LengthTap) Step(state *LengthState, eop bool, wordLength uint16, req LengthRequest) LengthResponse {
	newOffset := state.offset + wordLength

	capped := req.Valid && newOffset >= req.MaxLength
	isDone := eop || capped

	resp := LengthResponse{}
	resp.Valid = isDone && !state.done
	if capped {
		resp.ResultLength = minU16(req.MaxLength, newOffset)
	} else {
		resp.ResultLength = newOffset
	}

	if resp.Valid {
		state.done = true
	}
	if eop {
		state.Reset()
	} else {
		state.offset = newOffset
	}
	return resp
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
