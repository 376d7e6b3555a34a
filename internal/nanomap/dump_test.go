package nanomap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDumpHashBackend(t *testing.T) {
	backend := NewCam(7, 2, 2, 4)
	dump := strings.Join([]string{
		"# a comment",
		"nanotube_map: 7 hash 2 2",
		"key: 0102 value: aabb",
		"key: 0304 value: ccdd",
		"end",
	}, "\n")

	err := LoadDump(strings.NewReader(dump), func(id uint32) Backend {
		if id == 7 {
			return backend
		}
		return nil
	})
	require.NoError(t, err)

	out := make([]byte, 2)
	n, res := backend.Apply(OpREAD, []byte{1, 2}, nil, out, nil, 0, 2)
	assert.Equal(t, 2, n)
	assert.Equal(t, ResultPresent, res)
	assert.Equal(t, []byte{0xaa, 0xbb}, out)
}

func TestLoadDumpArrayBackend(t *testing.T) {
	backend := NewArray(3, 1, 2, 4)
	dump := "nanotube_map: 3 array 1 2\nkey: 02 value: 1234\nend\n"

	err := LoadDump(strings.NewReader(dump), func(id uint32) Backend { return backend })
	require.NoError(t, err)

	out := make([]byte, 2)
	backend.Apply(OpREAD, []byte{2}, nil, out, nil, 0, 2)
	assert.Equal(t, []byte{0x12, 0x34}, out)
}

func TestLoadDumpUnknownMapID(t *testing.T) {
	err := LoadDump(strings.NewReader("nanotube_map: 1 hash 1 1\nend\n"), func(id uint32) Backend {
		return nil
	})
	assert.Error(t, err)
}

func TestLoadDumpSizeMismatch(t *testing.T) {
	backend := NewCam(1, 2, 2, 4)
	dump := "nanotube_map: 1 hash 2 2\nkey: 01 value: 0203\nend\n"
	err := LoadDump(strings.NewReader(dump), func(id uint32) Backend { return backend })
	assert.Error(t, err)
}
