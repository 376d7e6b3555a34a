package nanoctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/nanotube/internal/nanochan"
	"github.com/behrlich/nanotube/internal/nanomap"
	"github.com/behrlich/nanotube/internal/nanorun"
)

func TestBindUnbindThread(t *testing.T) {
	ctx := New("stage-1", nil)
	th := nanorun.New("stage-1", nil, nil)

	ctx.BindThread(th)
	ctx.CheckThread(th) // must not be fatal
	ctx.UnbindThread()
}

func TestAddAndFindChannel(t *testing.T) {
	ctx := New("stage-1", nil)
	th := nanorun.New("stage-1", nil, nil)
	ctx.BindThread(th)

	ch := nanochan.New("c1", 4, 2, nanochan.BusUnspecified, 0, nil)
	ctx.AddChannel("c1", ch, FlagWriter)

	got := ctx.FindChannel("c1", nanochan.Write)
	assert.Same(t, ch, got)
}

func TestAddMapAndGetMap(t *testing.T) {
	ctx := New("arbiter-ctx", nil)
	backend := nanomap.NewCam(1, 2, 2, 4)
	ctx.AddMap("m1", backend)

	got := ctx.GetMap("m1")
	require.NotNil(t, got)
	assert.Equal(t, backend.ID(), got.ID())

	assert.Nil(t, ctx.GetMap("missing"))
}

func TestAddChannelBothDirections(t *testing.T) {
	ctx := New("loopback-ctx", nil)
	th := nanorun.New("loopback", nil, nil)
	ctx.BindThread(th)

	ch := nanochan.New("loop", 4, 4, nanochan.BusUnspecified, 0, nil)
	ctx.AddChannel("loop", ch, FlagReader|FlagWriter)

	assert.Same(t, ch, ctx.FindChannel("loop", nanochan.Read))
	assert.Same(t, ch, ctx.FindChannel("loop", nanochan.Write))
}
