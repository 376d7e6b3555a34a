package nanotube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/nanotube/internal/logging"
	"github.com/behrlich/nanotube/internal/nanochan"
	"github.com/behrlich/nanotube/internal/nanomap"
)

func TestMockMapBackendRecordsCalls(t *testing.T) {
	m := NewMockMapBackend(1, 4, 4, 16)
	m.ApplyFunc = func(op nanomap.MapOp, key, dataIn, dataOut, mask []byte, offset, length int) (int, nanomap.Result) {
		return 4, nanomap.ResultPresent
	}

	n, res := m.Apply(nanomap.OpREAD, []byte{1, 2, 3, 4}, nil, make([]byte, 4), nil, 0, 4)
	assert.Equal(t, 4, n)
	assert.Equal(t, nanomap.ResultPresent, res)
	assert.Equal(t, []nanomap.MapOp{nanomap.OpREAD}, m.Calls())
}

func TestMockMapBackendDefaultsToAbsent(t *testing.T) {
	m := NewMockMapBackend(2, 4, 4, 16)
	n, res := m.Apply(nanomap.OpWRITE, nil, nil, nil, nil, 0, 0)
	assert.Equal(t, 0, n)
	assert.Equal(t, nanomap.ResultAbsent, res)
}

func TestLoopbackChannelPairTryWriteTryRead(t *testing.T) {
	logger := logging.NewLogger(logging.DefaultConfig())
	pair := NewLoopbackChannelPair("loop", 4, 8, nanochan.BusETH, logger)

	require.True(t, pair.Channel.TryWrite([]byte{1, 2, 3, 4}))
	buf := make([]byte, 4)
	require.True(t, pair.Channel.TryRead(buf))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
}
