package nanotap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResizeBytesPureInsert(t *testing.T) { // S5
	in := []byte{'A', 'B', 'C', 'D'}
	out := ResizeBytes(in, ResizeRequest{WriteOffset: 2, DeleteLength: 0, InsertLength: 3})
	assert.Equal(t, []byte{'A', 'B', 0, 0, 0, 'C', 'D'}, out)
}

func TestResizeBytesPureDelete(t *testing.T) { // S6
	in := []byte{'A', 'B', 'C', 'D', 'E'}
	out := ResizeBytes(in, ResizeRequest{WriteOffset: 1, DeleteLength: 2, InsertLength: 0})
	assert.Equal(t, []byte{'A', 'D', 'E'}, out)
}

func TestResizeBytesInsertAndDelete(t *testing.T) { // S7
	in := []byte{'A', 'B', 'C', 'D', 'E'}
	out := ResizeBytes(in, ResizeRequest{WriteOffset: 1, DeleteLength: 2, InsertLength: 3})
	assert.Equal(t, []byte{'A', 0, 0, 0, 'D', 'E'}, out)
}

func TestResizeBytesLengthInvariant(t *testing.T) { // invariant 8
	in := make([]byte, 10)
	for i := range in {
		in[i] = byte(i)
	}
	o, d, ins := 4, 3, 5
	out := ResizeBytes(in, ResizeRequest{WriteOffset: o, DeleteLength: d, InsertLength: ins})
	expectedLen := len(in) - minInt(d, maxInt(0, len(in)-o)) + ins
	assert.Equal(t, expectedLen, len(out))
}

func TestResizeBytesContentInvariant(t *testing.T) { // invariant 9
	in := make([]byte, 20)
	for i := range in {
		in[i] = byte(i + 1)
	}
	o, d, ins := 5, 4, 2
	out := ResizeBytes(in, ResizeRequest{WriteOffset: o, DeleteLength: d, InsertLength: ins})

	for j := 0; j < o; j++ {
		assert.Equal(t, in[j], out[j])
	}
	for j := o; j < o+ins; j++ {
		assert.Equal(t, byte(0), out[j])
	}
	for j := o + ins; j < len(out); j++ {
		srcIdx := j - ins + d
		if srcIdx < len(in) {
			assert.Equal(t, in[srcIdx], out[j])
		}
	}
}

func TestResizeBytesDeleteClampedAtPacketEnd(t *testing.T) {
	in := []byte{'A', 'B', 'C'}
	out := ResizeBytes(in, ResizeRequest{WriteOffset: 2, DeleteLength: 10, InsertLength: 0})
	assert.Equal(t, []byte{'A', 'B'}, out)
}

// streamResize drives the real per-word ingress/egress pipeline over in,
// wordLen bytes at a time, and returns the reassembled resized bytes.
func streamResize(in []byte, req ResizeRequest, wordLen int) []byte {
	ingressState := NewResizeIngressState()
	egressState := NewResizeEgressState()
	var ingress ResizeIngress
	var egress ResizeEgress

	var out []byte
	for i := 0; i < len(in) || i == 0; i += wordLen {
		end := i + wordLen
		if end > len(in) {
			end = len(in)
		}
		word := make([]byte, wordLen)
		copy(word, in[i:end])
		wordLenIn := end - i
		eop := end >= len(in)

		cword := ingress.Step(ingressState, req, wordLenIn, eop, wordLen)
		for _, ow := range egress.Step(egressState, cword, word, wordLen) {
			n := ow.Length
			if !ow.EOP {
				n = wordLen
			}
			out = append(out, ow.Data[:n]...)
		}
		if eop {
			break
		}
	}
	return out
}

func TestResizeIngressEgressStreamsPureInsert(t *testing.T) { // S5, streamed
	in := []byte{'A', 'B', 'C', 'D'}
	req := ResizeRequest{WriteOffset: 2, DeleteLength: 0, InsertLength: 3}

	got := streamResize(in, req, 4)
	assert.Equal(t, ResizeBytes(in, req), got)
}

func TestResizeIngressEgressStreamsInsertAndDeleteAcrossWords(t *testing.T) {
	in := []byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H'}
	req := ResizeRequest{WriteOffset: 2, DeleteLength: 1, InsertLength: 3}

	got := streamResize(in, req, 4)
	assert.Equal(t, ResizeBytes(in, req), got)
}

func TestResizeIngressEgressStreamsPureDeleteSmallWords(t *testing.T) {
	in := []byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J'}
	req := ResizeRequest{WriteOffset: 3, DeleteLength: 4, InsertLength: 0}

	got := streamResize(in, req, 3)
	assert.Equal(t, ResizeBytes(in, req), got)
}

func TestResizeIngressEgressStreamsNoEdit(t *testing.T) {
	in := []byte{'A', 'B', 'C', 'D', 'E', 'F'}
	req := ResizeRequest{WriteOffset: 6, DeleteLength: 0, InsertLength: 0}

	got := streamResize(in, req, 4)
	assert.Equal(t, ResizeBytes(in, req), got)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
