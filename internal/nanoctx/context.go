// Package nanoctx implements the per-thread resource registry: the mapping
// from (channel id, direction) to channel and map id to backend that a
// bound thread consults when running its stage function.
package nanoctx

import (
	"github.com/behrlich/nanotube/internal/logging"
	"github.com/behrlich/nanotube/internal/nanochan"
	"github.com/behrlich/nanotube/internal/nanomap"
	"github.com/behrlich/nanotube/internal/nanorun"
)

type channelKey struct {
	id  string
	dir nanochan.Direction
}

// Context is a per-thread registry of channels and maps. Exactly one thread
// may be bound to a Context at a time; registering a channel also wires
// that channel's reader or writer reference to this Context's bound thread.
type Context struct {
	name   string
	logger *logging.Logger

	thread *nanorun.Thread

	channels map[channelKey]*nanochan.Channel
	maps     map[string]nanomap.Backend
}

// New creates an unbound Context.
func New(name string, logger *logging.Logger) *Context {
	return &Context{
		name:     name,
		logger:   logger,
		channels: make(map[channelKey]*nanochan.Channel),
		maps:     make(map[string]nanomap.Backend),
	}
}

// Name returns the context's name.
func (c *Context) Name() string { return c.name }

// BindThread binds t to this Context. Fatal if a thread is already bound.
func (c *Context) BindThread(t *nanorun.Thread) {
	if c.thread != nil {
		nanorun.Fatal("context %q: BindThread called while %q already bound", c.name, c.thread.Name())
	}
	c.thread = t
}

// UnbindThread releases the bound thread. Fatal if none is bound.
func (c *Context) UnbindThread() {
	if c.thread == nil {
		nanorun.Fatal("context %q: UnbindThread called with no thread bound", c.name)
	}
	c.thread = nil
}

// CheckThread asserts the calling thread is the one bound to this Context,
// matching spec §4.4's check_thread contract violation semantics.
func (c *Context) CheckThread(t *nanorun.Thread) {
	if c.thread != t {
		nanorun.Fatal("context %q: called from thread %q, expected bound thread", c.name, threadName(t))
	}
}

func threadName(t *nanorun.Thread) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}

// AddChannelFlags selects which direction(s) a channel is registered under.
type AddChannelFlags int

const (
	FlagReader AddChannelFlags = 1 << iota
	FlagWriter
)

// AddChannel registers ch under id for the directions named in flags,
// wiring ch's reader/writer thread reference to this Context's bound
// thread. Duplicate registration for a direction is fatal.
func (c *Context) AddChannel(id string, ch *nanochan.Channel, flags AddChannelFlags) {
	if flags&FlagReader != 0 {
		key := channelKey{id, nanochan.Read}
		if _, exists := c.channels[key]; exists {
			nanorun.Fatal("context %q: duplicate reader registration for channel %q", c.name, id)
		}
		c.channels[key] = ch
		ch.BindReader(c.thread)
	}
	if flags&FlagWriter != 0 {
		key := channelKey{id, nanochan.Write}
		if _, exists := c.channels[key]; exists {
			nanorun.Fatal("context %q: duplicate writer registration for channel %q", c.name, id)
		}
		c.channels[key] = ch
		ch.BindWriter(c.thread)
	}
}

// FindChannel looks up the channel registered for (id, dir). Fatal if
// absent, per spec §4.4.
func (c *Context) FindChannel(id string, dir nanochan.Direction) *nanochan.Channel {
	ch, ok := c.channels[channelKey{id, dir}]
	if !ok {
		nanorun.Fatal("context %q: no channel %q registered for direction %v", c.name, id, dir)
	}
	return ch
}

// AddMap registers backend m under id. Duplicates are fatal.
func (c *Context) AddMap(id string, m nanomap.Backend) {
	if _, exists := c.maps[id]; exists {
		nanorun.Fatal("context %q: duplicate map registration for id %q", c.name, id)
	}
	c.maps[id] = m
}

// GetMap returns the backend registered under id, or nil if none.
func (c *Context) GetMap(id string) nanomap.Backend {
	return c.maps[id]
}
