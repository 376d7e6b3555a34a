package nanotap

// ResizeRequest configures a resize operation: delete deleteLength bytes
// and insert insertLength zero bytes at writeOffset within the packet
// (spec §4.11). A following write tap can fill the inserted zeros.
type ResizeRequest struct {
	WriteOffset  int
	DeleteLength int
	InsertLength int
}

// ResizeBytes implements the byte-level correctness contract of the
// resize tap directly over a whole packet (spec §4.11.3 / §8 invariants
// 8-9): bytes before the edit point are unchanged; bytes in
// [o, o+insertLength) are zero; bytes at or after o+insertLength come from
// input offset (output_offset - insertLength + deleteLength), with the
// delete clamped so no bytes past the packet end are consumed.
//
// This is the reference/testable contract; ResizeIngress/ResizeEgress
// below reproduce it with the real streaming, per-word algorithm spec
// §4.11.1/§4.11.2 describes, and are checked against this function in
// tests.
func ResizeBytes(in []byte, req ResizeRequest) []byte {
	o := req.WriteOffset
	if o > len(in) {
		o = len(in)
	}
	d := req.DeleteLength
	if o+d > len(in) {
		d = len(in) - o
	}
	i := req.InsertLength

	outLen := len(in) - d + i
	out := make([]byte, outLen)

	copy(out, in[:o])
	// out[o:o+i] stays zero.
	copy(out[o+i:], in[o+d:])

	return out
}

// ControlWord is the ingress-to-egress handoff record described in spec
// §4.11.1: where in the output/carried word the insert/delete boundary
// falls, and how much of the current word and the previous word's carry
// make up the next one or two output words.
type ControlWord struct {
	PacketRot          int
	OutputInsertStart  int
	OutputInsertEnd    int
	CarriedInsertStart int
	CarriedInsertEnd   int
	SelectCarried      bool
	Push1              bool
	Push2              bool
	EOP                bool
	WordLength         int
}

// ResizeIngressState is the per-packet ingress state: a handful of
// offsets and stage-started flags, not a buffer of packet bytes. The
// three sub-stages (unshifted copy, insert/delete, shifted copy) each
// track just enough to know where they are within the current and next
// word; no full packet is ever held in memory.
type ResizeIngressState struct {
	newReq bool

	packetRotAmount int

	unshiftedLength int

	editStarted      bool
	editDeleteLength int
	editInsertLength int
	editCarriedLen   int

	shiftedStarted    bool
	shiftedCarriedLen int
}

// NewResizeIngressState returns a state ready for the first word of a
// packet.
func NewResizeIngressState() *ResizeIngressState {
	return &ResizeIngressState{newReq: true}
}

// Reset reinitializes state for the next packet.
func (s *ResizeIngressState) Reset() { *s = ResizeIngressState{newReq: true} }

// ResizeIngress is the ingress-stage tap (spec §4.11.1): given one input
// word's length and EOP flag, it advances the unshifted/edit/shifted
// sub-stage pipeline and emits a control word describing how the egress
// stage should mux this cycle's word (and any carried bytes) into output.
// Only lengths are needed here; the byte data itself flows to the egress
// stage unchanged, alongside the control word it pairs with.
type ResizeIngress struct{}

// Step advances the pipeline by one input word and returns the control
// word for it. req is read at the start of each packet (the first call
// after Reset/NewResizeIngressState, or the first call after a previous
// EOP); packetWordLength is the fixed bus word width in bytes.
func (ResizeIngress) Step(state *ResizeIngressState, req ResizeRequest, wordLenIn int, eop bool, packetWordLength int) ControlWord {
	sop := state.newReq
	state.newReq = eop

	outputInsertStart := 0
	outputInsertEnd := 0
	outputDone := false

	accumLength := 0
	accumInsertStart := 0
	accumInsertEnd := 0

	// Unshifted stage: copy bytes before the edit point untouched.
	if sop {
		state.unshiftedLength = req.WriteOffset
	}
	unshiftedSpace := wordLenIn
	unshiftedLastWord := state.unshiftedLength <= unshiftedSpace

	var unshiftedInputEndOffset int
	if !unshiftedLastWord {
		unshiftedInputEndOffset = wordLenIn
	} else {
		unshiftedInputEndOffset = state.unshiftedLength
	}

	switch {
	case unshiftedLastWord:
		accumLength = state.unshiftedLength
		accumInsertStart = state.unshiftedLength
		accumInsertEnd = state.unshiftedLength
	case eop:
		accumLength = wordLenIn
		accumInsertStart = wordLenIn
		accumInsertEnd = wordLenIn
	default:
		outputInsertStart = packetWordLength
		outputInsertEnd = packetWordLength
		outputDone = true
	}
	state.unshiftedLength -= packetWordLength

	// Edit stage: insert zeros and delete bytes at the edit point.
	if sop {
		state.editDeleteLength = req.DeleteLength
		state.editInsertLength = req.InsertLength
	}

	editPrevStarted := state.editStarted && !sop

	if unshiftedLastWord {
		state.editStarted = true
	} else {
		state.editStarted = editPrevStarted
	}
	editFirstWord := state.editStarted && !editPrevStarted

	var editInputStartOffset int
	if editPrevStarted {
		editInputStartOffset = 0
	} else {
		editInputStartOffset = unshiftedInputEndOffset
	}

	editSpace := wordLenIn - editInputStartOffset
	editLastWord := state.editStarted && state.editDeleteLength <= editSpace

	var editInputEndOffset int
	if !editLastWord {
		editInputEndOffset = wordLenIn
	} else {
		editInputEndOffset = editInputStartOffset + state.editDeleteLength
	}

	switch {
	case editFirstWord:
		insertSpace := packetWordLength - accumLength
		if state.editInsertLength > insertSpace {
			outputInsertStart = editInputStartOffset
			outputInsertEnd = packetWordLength
			outputDone = true
			accumLength = state.editInsertLength - insertSpace
			accumInsertStart = 0
			accumInsertEnd = accumLength
		} else {
			accumLength += state.editInsertLength
			accumInsertEnd = accumLength
		}
		state.editCarriedLen = accumLength
	case editPrevStarted:
		outputDone = false
		accumLength = state.editCarriedLen
		accumInsertStart = state.editCarriedLen
		accumInsertEnd = state.editCarriedLen
	default:
		state.editCarriedLen = 0
	}

	if state.editStarted {
		state.editDeleteLength -= editInputEndOffset - editInputStartOffset
	}

	// Shifted stage: copy bytes after the edit point, carrying the
	// rotation amount needed to realign them in the egress stage.
	shiftedPrevStarted := state.shiftedStarted && !sop

	if editLastWord {
		state.shiftedStarted = true
	} else {
		state.shiftedStarted = shiftedPrevStarted
	}
	shiftedFirstWord := state.shiftedStarted && !shiftedPrevStarted

	var shiftedInputStartOffset int
	if shiftedPrevStarted {
		shiftedInputStartOffset = 0
	} else {
		shiftedInputStartOffset = editInputEndOffset
	}

	switch {
	case shiftedFirstWord:
		shiftedLength := wordLenIn - shiftedInputStartOffset
		shiftedSpace := packetWordLength - accumLength

		if shiftedInputStartOffset > accumLength {
			state.packetRotAmount = shiftedInputStartOffset - accumLength
		} else {
			state.packetRotAmount = shiftedInputStartOffset + shiftedSpace
		}

		if shiftedLength > shiftedSpace {
			outputInsertStart = accumInsertStart
			outputInsertEnd = accumInsertEnd
			outputDone = true
			accumLength = shiftedLength - shiftedSpace
			accumInsertStart = 0
			accumInsertEnd = 0
		} else {
			accumLength += shiftedLength
		}
		state.shiftedCarriedLen = accumLength
	case shiftedPrevStarted:
		space := packetWordLength - state.shiftedCarriedLen
		if wordLenIn <= space {
			outputDone = false
			accumLength = wordLenIn + state.shiftedCarriedLen
			accumInsertStart = state.shiftedCarriedLen
			accumInsertEnd = state.shiftedCarriedLen
		} else {
			outputInsertStart = state.shiftedCarriedLen
			outputInsertEnd = state.shiftedCarriedLen
			outputDone = true
			accumLength = wordLenIn - space
			accumInsertStart = 0
			accumInsertEnd = 0
		}
	default:
		state.packetRotAmount = 0
		state.shiftedCarriedLen = 0
	}

	accumValid := accumLength != 0
	accumPush := accumValid && eop

	cword := ControlWord{PacketRot: state.packetRotAmount}
	if outputDone {
		cword.OutputInsertStart = outputInsertStart
		cword.OutputInsertEnd = outputInsertEnd
	} else {
		cword.OutputInsertStart = accumInsertStart
		cword.OutputInsertEnd = accumInsertEnd
	}
	cword.CarriedInsertStart = accumInsertStart
	cword.CarriedInsertEnd = accumInsertEnd
	cword.SelectCarried = editPrevStarted
	cword.Push1 = outputDone || accumPush
	cword.Push2 = outputDone && accumPush
	cword.EOP = eop
	switch {
	case eop && accumValid:
		cword.WordLength = accumLength
	case eop:
		cword.WordLength = wordLenIn
	default:
		cword.WordLength = packetWordLength
	}

	return cword
}

// OutputWord is one word the egress stage produces: its data, whether it
// is the packet's final word, and how many of its bytes are valid.
type OutputWord struct {
	Data   []byte
	EOP    bool
	Length int
}

// ResizeEgressState is the per-packet egress state: the carried word from
// the previous cycle plus a flag for whether the next Step call is a
// fresh control word or the second half of one that pushed two words.
type ResizeEgressState struct {
	newReq  bool
	carried []byte
}

// NewResizeEgressState returns a state ready for the first control word
// of a packet.
func NewResizeEgressState() *ResizeEgressState {
	return &ResizeEgressState{newReq: true}
}

// Reset reinitializes state for the next packet.
func (s *ResizeEgressState) Reset() { *s = ResizeEgressState{newReq: true} }

// ResizeEgress reconstructs output words from the byte-rotate/classify mux
// spec §4.11.2 describes: each input word's bytes land before, inside, or
// after the insert/delete region depending on the control word, with
// "before"/"after" bytes sourced from either this word or the carried
// word from the previous cycle (selected by SelectCarried) and "after"
// bytes additionally rotated into alignment by PacketRot.
type ResizeEgress struct{}

// Step consumes one (control word, input word) pair and returns zero, one,
// or two output words (two when the control word's Push2 is set, meaning
// the carried bytes from this cycle must flush before the next input word
// is processed).
func (ResizeEgress) Step(state *ResizeEgressState, cword ControlWord, wordIn []byte, packetWordLength int) []OutputWord {
	var outs []OutputWord
	for {
		out, valid, inputDone := state.stepOnce(cword, wordIn, packetWordLength)
		if valid {
			outs = append(outs, out)
		}
		if inputDone {
			break
		}
	}
	return outs
}

func (s *ResizeEgressState) stepOnce(cword ControlWord, wordIn []byte, wordLen int) (OutputWord, bool, bool) {
	newReq := s.newReq

	outputInsertStart := wordLen
	outputInsertEnd := wordLen
	selectCarried := true
	push2 := false
	if newReq {
		outputInsertStart = cword.OutputInsertStart
		outputInsertEnd = cword.OutputInsertEnd
		selectCarried = cword.SelectCarried
		push2 = cword.Push2
	}

	s.newReq = !push2
	inputDone := !push2

	rotIn := RotateDown(wordIn, wordLen, wordLen, cword.PacketRot)

	eop := cword.EOP
	length := cword.WordLength
	if push2 {
		eop = false
		length = wordLen
	}

	selected := wordIn
	if selectCarried && s.carried != nil {
		selected = s.carried
	}

	wordOut := make([]byte, wordLen)
	for i := 0; i < wordLen; i++ {
		switch Classify(i, outputInsertStart, outputInsertEnd) {
		case Before:
			wordOut[i] = byteAt(selected, i)
		case After:
			wordOut[i] = byteAt(rotIn, i)
		default:
			wordOut[i] = 0
		}
	}

	carried := make([]byte, wordLen)
	for i := 0; i < wordLen; i++ {
		switch Classify(i, cword.CarriedInsertStart, cword.CarriedInsertEnd) {
		case Before:
			carried[i] = byteAt(selected, i)
		case After:
			carried[i] = byteAt(rotIn, i)
		default:
			carried[i] = 0
		}
	}
	s.carried = carried

	return OutputWord{Data: wordOut, EOP: eop, Length: length}, cword.Push1, inputDone
}

func byteAt(b []byte, i int) byte {
	if i < 0 || i >= len(b) {
		return 0
	}
	return b[i]
}

// Words chunks resized bytes into fixed-width bus words, zero-padding the
// final word, mirroring ToBusWords' EOP/empty-byte convention. This is a
// convenience for callers (and tests) that already have the resized bytes
// in hand, rather than the word-streaming Step path above.
func (ResizeEgress) Words(resized []byte, wordLen int) [][]byte {
	if wordLen <= 0 {
		return nil
	}
	n := (len(resized) + wordLen - 1) / wordLen
	if n == 0 {
		n = 1
	}
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		start := i * wordLen
		end := start + wordLen
		if end > len(resized) {
			end = len(resized)
		}
		w := make([]byte, wordLen)
		copy(w, resized[start:end])
		out[i] = w
	}
	return out
}
