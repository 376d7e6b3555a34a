package nanomap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArrayReadWriteInRange(t *testing.T) {
	a := NewArray(1, 1, 4, 4)
	key := []byte{2}
	mask := []byte{0xFF}

	n, res := a.Apply(OpWRITE, key, []byte{1, 2, 3, 4}, nil, mask, 0, 4)
	assert.Equal(t, 4, n)
	assert.Equal(t, ResultPresent, res)

	out := make([]byte, 4)
	n, res = a.Apply(OpREAD, key, nil, out, nil, 0, 4)
	assert.Equal(t, 4, n)
	assert.Equal(t, ResultPresent, res)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
}

func TestArrayOutOfRangeIsAbsent(t *testing.T) {
	a := NewArray(1, 1, 4, 4)
	out := []byte{9, 9, 9, 9}
	n, res := a.Apply(OpREAD, []byte{4}, nil, out, nil, 0, 4)
	assert.Equal(t, 0, n)
	assert.Equal(t, ResultAbsent, res)
	assert.Equal(t, []byte{0, 0, 0, 0}, out, "out-of-range read still zero-fills data_out")
}

// Array's INSERT/REMOVE ops call nanorun.Fatal -> os.Exit, matching the
// reference array map's insert_empty/remove; not exercised directly here
// (same convention as TestArbiterClientCountMismatchRecorded) since there
// is no way to intercept a process exit from within this package's tests.

func TestArrayKeyLittleEndian(t *testing.T) {
	a := NewArray(1, 2, 1, 1000)
	key := []byte{0x01, 0x02} // index = 0x0201 = 513
	a.Apply(OpWRITE, key, []byte{0x7F}, nil, []byte{0xFF}, 0, 1)

	out := make([]byte, 1)
	a.Apply(OpREAD, key, nil, out, nil, 0, 1)
	assert.Equal(t, byte(0x7F), out[0])
}
