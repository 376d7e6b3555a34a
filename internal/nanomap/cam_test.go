package nanomap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCamWriteThenRead(t *testing.T) {
	c := NewCam(1, 4, 16, 4)
	key := []byte{0xEF, 0xBE, 0xAD, 0xDE} // 0xDEADBEEF little-endian bytes
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i + 1)
	}
	mask := []byte{0xFF, 0xFF}

	n, res := c.Apply(OpWRITE, key, data, nil, mask, 0, 16)
	require.Equal(t, 16, n)
	require.Equal(t, ResultPresent, res)

	out := make([]byte, 16)
	n, res = c.Apply(OpREAD, key, nil, out, nil, 0, 16)
	assert.Equal(t, 16, n)
	assert.Equal(t, ResultPresent, res)
	assert.Equal(t, data, out)
}

func TestCamInsertFailsIfPresent(t *testing.T) {
	c := NewCam(1, 2, 2, 4)
	key := []byte{1, 1}
	mask := []byte{0xFF}

	_, res := c.Apply(OpINSERT, key, []byte{9, 9}, nil, mask, 0, 2)
	require.Equal(t, ResultPresent, res)

	n, res := c.Apply(OpINSERT, key, []byte{1, 1}, nil, mask, 0, 2)
	assert.Equal(t, 0, n)
	assert.Equal(t, ResultPresent, res, "already-present INSERT reports present without modifying")
}

func TestCamUpdateFailsIfAbsent(t *testing.T) {
	c := NewCam(1, 2, 2, 4)
	n, res := c.Apply(OpUPDATE, []byte{1, 2}, []byte{9, 9}, nil, []byte{0xFF}, 0, 2)
	assert.Equal(t, 0, n)
	assert.Equal(t, ResultAbsent, res)
}

func TestCamRemove(t *testing.T) {
	c := NewCam(1, 2, 2, 4)
	key := []byte{3, 4}
	c.Apply(OpWRITE, key, []byte{5, 6}, nil, []byte{0xFF}, 0, 2)

	n, res := c.Apply(OpREMOVE, key, nil, nil, nil, 0, 0)
	assert.Equal(t, RemovedLength, n)
	assert.Equal(t, ResultRemoved, res)

	n, res = c.Apply(OpREAD, key, nil, make([]byte, 2), nil, 0, 2)
	assert.Equal(t, 0, n)
	assert.Equal(t, ResultAbsent, res)
}

func TestCamReadAbsentZeroFillsOutput(t *testing.T) {
	c := NewCam(1, 2, 4, 4)
	out := []byte{9, 9, 9, 9}
	n, res := c.Apply(OpREAD, []byte{7, 7}, nil, out, nil, 0, 4)
	assert.Equal(t, 0, n)
	assert.Equal(t, ResultAbsent, res)
	assert.Equal(t, []byte{0, 0, 0, 0}, out)
}

func TestCamWriteRespectsMaskBits(t *testing.T) {
	c := NewCam(1, 2, 4, 4)
	key := []byte{1, 0}
	c.Apply(OpWRITE, key, []byte{0xAA, 0xAA, 0xAA, 0xAA}, nil, []byte{0xFF}, 0, 4)
	// mask selects only bytes 0 and 2 (bits 0 and 2 set -> 0b00000101 = 0x05)
	c.Apply(OpWRITE, key, []byte{1, 2, 3, 4}, nil, []byte{0x05}, 0, 4)

	out := make([]byte, 4)
	c.Apply(OpREAD, key, nil, out, nil, 0, 4)
	assert.Equal(t, []byte{1, 0xAA, 3, 0xAA}, out)
}

func TestCamCapacityEnforced(t *testing.T) {
	c := NewCam(1, 1, 1, 1)
	mask := []byte{0xFF}
	_, res := c.Apply(OpWRITE, []byte{1}, []byte{1}, nil, mask, 0, 1)
	require.Equal(t, ResultPresent, res)

	n, res := c.Apply(OpWRITE, []byte{2}, []byte{1}, nil, mask, 0, 1)
	assert.Equal(t, 0, n)
	assert.Equal(t, ResultAbsent, res, "write to a second key at capacity must fail to insert")
}

func TestRotateHashIsDeterministic(t *testing.T) {
	h1 := rotateHash([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	h2 := rotateHash([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	h3 := rotateHash([]byte{0xEF, 0xBE, 0xAD, 0xDE})
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
