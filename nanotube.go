// Package nanotube is the public API for the dataflow engine runtime: a
// graph of cooperatively scheduled stages communicating over bounded
// SPSC channels, manipulating packets through fixed-function taps and
// arbitrated maps.
package nanotube

import (
	"encoding/binary"
	"time"

	"github.com/behrlich/nanotube/internal/logging"
	"github.com/behrlich/nanotube/internal/nanochan"
	"github.com/behrlich/nanotube/internal/nanoctx"
	"github.com/behrlich/nanotube/internal/nanokernel"
	"github.com/behrlich/nanotube/internal/nanomap"
	"github.com/behrlich/nanotube/internal/nanopacket"
	"github.com/behrlich/nanotube/internal/nanorun"
	"github.com/behrlich/nanotube/internal/nanotap"
)

// ProcessingSystemParams configures a ProcessingSystem at construction
// (spec §6: no environment variables or config files, a plain struct
// literal, mirroring the teacher's DeviceParams).
type ProcessingSystemParams struct {
	Name   string
	Logger *logging.Logger
}

// DefaultProcessingSystemParams returns sensible defaults.
func DefaultProcessingSystemParams() ProcessingSystemParams {
	return ProcessingSystemParams{Name: "nanotube", Logger: logging.Default()}
}

// ChannelConfig configures one channel created via ProcessingSystem.AddChannel.
type ChannelConfig struct {
	Name         string
	FrameSize    int // max encoded packet size carried per element
	Depth        int // number of elements
	Bus          nanochan.BusType
	SidebandSize int
}

// DefaultChannelConfig returns a channel sized for typical Ethernet
// frames with a modest ring depth.
func DefaultChannelConfig(name string) ChannelConfig {
	return ChannelConfig{Name: name, FrameSize: 2048, Depth: 64, Bus: nanochan.BusETH}
}

// RawChannelConfig returns a channel config sized to carry one bus word
// plus its EOP/empty-byte trailer per element (nanokernel.ChannelElementSize),
// for use as a ChannelKernel's raw ingress or egress channel at the
// outside boundary of the graph.
func RawChannelConfig(name string, bus nanopacket.Bus) ChannelConfig {
	return ChannelConfig{Name: name, FrameSize: nanokernel.ChannelElementSize(bus), Depth: 256, Bus: nanochan.BusETH}
}

// KernelShim pairs a registered stage's context and thread, mirroring
// the teacher's per-queue runner bookkeeping in backend.go.
type KernelShim struct {
	Name    string
	Context *nanoctx.Context
	Thread  *nanorun.Thread
}

// ProcessingSystem owns the whole graph: the main context/thread, every
// stage context/thread, the name -> channel registry, the id -> map
// backend registry, and the kernel shims, per spec §4.13.
type ProcessingSystem struct {
	name   string
	logger *logging.Logger

	mainThread *nanorun.Thread
	mainCtx    *nanoctx.Context
	idle       *nanorun.IdleWaiter
	metrics    *Metrics

	contexts []*nanoctx.Context
	threads  []*nanorun.Thread
	kernels  []*KernelShim

	channelsByName map[string]*nanochan.Channel
	backendsByID   map[uint32]nanomap.Backend
	arbiters       []*nanomap.Arbiter

	// ReadChannels/WriteChannels list every channel the graph exposes as
	// an external ingress/egress point, in registration order, per spec
	// §4.13's exported channel slices.
	ReadChannels  []*nanochan.Channel
	WriteChannels []*nanochan.Channel

	attached bool
}

// New creates an unattached ProcessingSystem. Call Attach to build and
// start the graph.
func New(params ProcessingSystemParams) *ProcessingSystem {
	if params.Logger == nil {
		params.Logger = logging.Default()
	}
	if params.Name == "" {
		params.Name = "nanotube"
	}

	mainThread := nanorun.NewMain(params.Logger)
	mainCtx := nanoctx.New("main", params.Logger)
	mainCtx.BindThread(mainThread)

	return &ProcessingSystem{
		name:           params.Name,
		logger:         params.Logger,
		mainThread:     mainThread,
		mainCtx:        mainCtx,
		idle:           nanorun.NewIdleWaiter(mainThread),
		metrics:        NewMetrics(),
		channelsByName: make(map[string]*nanochan.Channel),
		backendsByID:   make(map[uint32]nanomap.Backend),
	}
}

// Metrics returns the processing system's metrics instance.
func (ps *ProcessingSystem) Metrics() *Metrics { return ps.metrics }

// mapOpTimeout bounds how long DispatchMapOp polls for a response before
// concluding the arbiter is stuck. The arbiter's service thread has no
// way to wake a blocked client directly (its response channel isn't
// paired with a Wake call the way nanochan's ring buffers are), so the
// client polls on a timer the same way Flush does.
const mapOpTimeout = 5 * time.Second

// DispatchMapOp sends req to the arbiter on behalf of client idx,
// blocking the calling stage thread (via timed sleep/poll) until a
// response arrives, and records the round-trip latency and result into
// ps.Metrics(). t must be the stage thread bound as that client.
func (ps *ProcessingSystem) DispatchMapOp(t *nanorun.Thread, a *nanomap.Arbiter, idx int, req nanomap.Request) nanomap.Response {
	start := time.Now()
	if !a.Send(idx, req) {
		nanorun.Fatal("DispatchMapOp: client %d request queue full", idx)
	}
	deadline := t.InitTimer(mapOpTimeout)
	for {
		if resp, ok := a.Recv(idx); ok {
			ps.metrics.RecordMapOp(resp.Result == nanomap.ResultPresent, resp.Result == nanomap.ResultRemoved, uint64(time.Since(start)))
			return resp
		}
		if t.CheckTimer(deadline) {
			nanorun.Fatal("DispatchMapOp: client %d timed out waiting for arbiter response", idx)
		}
		t.Sleep()
	}
}

// Attach runs setup once to build the graph (add channels, map backends,
// and stages) and then starts every stage thread. This is the external
// Setup entry point of spec §6: setup is called exactly once, and the
// graph is immutable once Attach returns, mirroring the teacher's
// CreateAndServe two-phase "construct, then start" sequence.
func (ps *ProcessingSystem) Attach(setup func(*ProcessingSystem)) error {
	if ps.attached {
		return NewError("Attach", ErrCodeInvalidParameters, "processing system already attached")
	}

	setup(ps)

	ps.startArbiters()
	for _, t := range ps.threads {
		t.Start()
	}
	ps.attached = true

	ps.logger.Infof("nanotube %q: attached with %d stage(s)", ps.name, len(ps.kernels))
	return nil
}

// Detach stops every stage thread and the map arbiters, in reverse
// registration order, mirroring the teacher's StopAndDelete.
func (ps *ProcessingSystem) Detach() {
	if !ps.attached {
		return
	}
	for i := len(ps.arbiters) - 1; i >= 0; i-- {
		ps.arbiters[i].Stop()
	}
	for i := len(ps.threads) - 1; i >= 0; i-- {
		ps.threads[i].Stop()
	}
	ps.idle.Close()
	ps.attached = false
	ps.logger.Infof("nanotube %q: detached", ps.name)
}

// AddChannel creates and registers a channel under cfg.Name, per spec
// §4.13's name -> Channel registry. Duplicate names are rejected.
func (ps *ProcessingSystem) AddChannel(cfg ChannelConfig) (*nanochan.Channel, error) {
	if _, exists := ps.channelsByName[cfg.Name]; exists {
		return nil, NewChannelError("AddChannel", cfg.Name, ErrCodeInvalidParameters, "channel name already registered")
	}
	ch := nanochan.New(cfg.Name, cfg.FrameSize, cfg.Depth, cfg.Bus, cfg.SidebandSize, ps.logger)
	ps.channelsByName[cfg.Name] = ch
	return ch, nil
}

// Channel looks up a previously registered channel by name.
func (ps *ProcessingSystem) Channel(name string) (*nanochan.Channel, error) {
	ch, ok := ps.channelsByName[name]
	if !ok {
		return nil, NewChannelError("Channel", name, ErrCodeInvalidParameters, "no channel registered under this name")
	}
	return ch, nil
}

// ExposeRead/ExposeWrite mark a channel as an external ingress/egress
// point of the graph, appending it to the exported slices.
func (ps *ProcessingSystem) ExposeRead(ch *nanochan.Channel)  { ps.ReadChannels = append(ps.ReadChannels, ch) }
func (ps *ProcessingSystem) ExposeWrite(ch *nanochan.Channel) { ps.WriteChannels = append(ps.WriteChannels, ch) }

// AddMapBackend registers a map backend under its own id, per spec
// §4.13's id -> Backend registry.
func (ps *ProcessingSystem) AddMapBackend(b nanomap.Backend) error {
	if _, exists := ps.backendsByID[b.ID()]; exists {
		return NewMapError("AddMapBackend", b.ID(), ErrCodeInvalidParameters, "map id already registered")
	}
	ps.backendsByID[b.ID()] = b
	return nil
}

// MapBackend looks up a previously registered map backend by id.
func (ps *ProcessingSystem) MapBackend(id uint32) (nanomap.Backend, bool) {
	b, ok := ps.backendsByID[id]
	return b, ok
}

// AddArbiter creates and registers a map tap arbiter over backend and
// returns it so the caller can wire per-stage clients via AddClient/Send/
// Recv during setup. It does not start the arbiter: Attach starts every
// registered arbiter's service thread after setup returns, adds it to
// idle-waiter monitoring, and Detach stops it.
func (ps *ProcessingSystem) AddArbiter(cfg nanomap.ArbiterConfig) *nanomap.Arbiter {
	a := nanomap.NewArbiter(cfg, ps.logger)
	ps.arbiters = append(ps.arbiters, a)
	return a
}

// startArbiters is called from Attach after setup has wired every
// arbiter's clients, launching their service threads and folding them
// into the idle waiter.
func (ps *ProcessingSystem) startArbiters() {
	for _, a := range ps.arbiters {
		t := a.Start(ps.logger)
		ps.idle.Monitor(t)
	}
}

// AddFunctionStage builds a stage running a single user kernel function
// between an input and an output channel, per spec §4.12's function
// kernel: the stage converts each packet to the kernel's requested
// framing, invokes fn once, converts back, and forwards Pass verdicts
// downstream. Drop verdicts consume the packet without forwarding it.
func (ps *ProcessingSystem) AddFunctionStage(name string, bus nanopacket.Bus, capsuleAware bool, fn nanokernel.Func, inputName, outputName string) (*KernelShim, error) {
	in, err := ps.Channel(inputName)
	if err != nil {
		return nil, err
	}
	out, err := ps.Channel(outputName)
	if err != nil {
		return nil, err
	}

	ctx := nanoctx.New(name, ps.logger)
	kernel := &nanokernel.FunctionKernel{Bus: bus, CapsuleAware: capsuleAware, Fn: fn, Logger: ps.logger}

	inBuf := make([]byte, in.ElementSize())
	loop := func(t *nanorun.Thread) {
		if !in.TryRead(inBuf) {
			ps.metrics.RecordReaderBlocked()
			t.Sleep()
			return
		}
		p := decodePacketFrame(inBuf, bus)
		verdict := kernel.Process(ctx, p)
		dropped := verdict != nanokernel.Pass
		ps.metrics.RecordPacket(p.Len(), dropped)
		if !dropped {
			frame := encodePacketFrame(p, out.ElementSize())
			if !out.HasSpace() {
				ps.metrics.RecordWriterBlocked()
			}
			out.Write(t, frame)
		}
	}

	thread := nanorun.New(name, loop, ps.logger)
	ctx.BindThread(thread)
	ctx.AddChannel(inputName, in, nanoctx.FlagReader)
	ctx.AddChannel(outputName, out, nanoctx.FlagWriter)

	shim := &KernelShim{Name: name, Context: ctx, Thread: thread}
	ps.contexts = append(ps.contexts, ctx)
	ps.threads = append(ps.threads, thread)
	ps.kernels = append(ps.kernels, shim)
	ps.idle.Monitor(thread)

	return shim, nil
}

// AddMapKernelStage builds a stage like AddFunctionStage, except fn talks
// to a map backend only through arbiter: fn is handed a dispatch closure
// bound to this stage's own arbiter client slot, and every call blocks
// (via the stage thread's normal sleep/poll loop) until the arbiter's
// service thread replies, per spec §4.6's arbitrated map tap contract.
// This is how a stage shares a map backend with other clients safely;
// AddMapBackend callers that only ever touch their backend from one stage
// can still call Backend.Apply directly and skip the arbiter.
func (ps *ProcessingSystem) AddMapKernelStage(name string, bus nanopacket.Bus, arbiter *nanomap.Arbiter, dataOutLen int, fn func(p *nanopacket.Packet, dispatch func(nanomap.Request) nanomap.Response) nanokernel.Verdict, inputName, outputName string) (*KernelShim, error) {
	in, err := ps.Channel(inputName)
	if err != nil {
		return nil, err
	}
	out, err := ps.Channel(outputName)
	if err != nil {
		return nil, err
	}

	ctx := nanoctx.New(name, ps.logger)
	clientIdx := arbiter.AddClient(dataOutLen)

	inBuf := make([]byte, in.ElementSize())
	loop := func(t *nanorun.Thread) {
		if !in.TryRead(inBuf) {
			ps.metrics.RecordReaderBlocked()
			t.Sleep()
			return
		}
		p := decodePacketFrame(inBuf, bus)
		dispatch := func(req nanomap.Request) nanomap.Response {
			return ps.DispatchMapOp(t, arbiter, clientIdx, req)
		}
		verdict := fn(p, dispatch)
		dropped := verdict != nanokernel.Pass
		ps.metrics.RecordPacket(p.Len(), dropped)
		if !dropped {
			frame := encodePacketFrame(p, out.ElementSize())
			if !out.HasSpace() {
				ps.metrics.RecordWriterBlocked()
			}
			out.Write(t, frame)
		}
	}

	thread := nanorun.New(name, loop, ps.logger)
	ctx.BindThread(thread)
	ctx.AddChannel(inputName, in, nanoctx.FlagReader)
	ctx.AddChannel(outputName, out, nanoctx.FlagWriter)

	shim := &KernelShim{Name: name, Context: ctx, Thread: thread}
	ps.contexts = append(ps.contexts, ctx)
	ps.threads = append(ps.threads, thread)
	ps.kernels = append(ps.kernels, shim)
	ps.idle.Monitor(thread)

	return shim, nil
}

// ApplyWriteTap overlays req onto p using the real per-word write tap
// (internal/nanotap.WriteTap). req's offsets count from the start of the
// whole packet as ToBusWords lays it out (header, then body, then
// capsule), not from the start of the body. It word-chunks p across bus the
// same way the bus-word kernels do (nanopacket.ToBusWords/FromBusWords),
// rather than patching the byte slice directly. A software stage has the
// whole packet in hand, but driving the bus-word-at-a-time tap is what
// lets one implementation serve both this batch path and a hardware-paced
// per-word pipeline.
func ApplyWriteTap(p *nanopacket.Packet, req nanotap.WriteRequest) {
	words := p.ToBusWords(p.Bus)
	var tap nanotap.WriteTap
	var state nanotap.WriteState
	for i := range words {
		out := tap.Step(&state, words[i].Data, words[i].EOP, req)
		words[i].Data = out
	}
	portID := p.PortID
	*p = *nanopacket.FromBusWords(p.Bus, words, len(p.Header), len(p.Body))
	p.PortID = portID
}

// wholeBodyLen is passed as a ChannelKernel Poll's bodyLen when the caller
// wants every byte after the header treated as body with no capsule;
// FromBusWords clamps it down to whatever is actually available.
const wholeBodyLen = 1 << 20

// AddChannelIngressStage builds a bridge stage that polls raw, per-word
// bus traffic off rawIngress (a channel sized via
// nanokernel.ChannelElementSize) and, once a full packet has arrived
// (spanning one or more EOP-terminated words), forwards it as a whole
// packet frame onto outputName. This is the ChannelKernel side of the
// graph boundary described in spec §4.12: an external NIC-like producer
// feeds raw words in; the first internal stage sees whole packets.
func (ps *ProcessingSystem) AddChannelIngressStage(name string, bus nanopacket.Bus, rawIngress *nanochan.Channel, outputName string) (*KernelShim, error) {
	out, err := ps.Channel(outputName)
	if err != nil {
		return nil, err
	}

	ctx := nanoctx.New(name, ps.logger)
	k := &nanokernel.ChannelKernel{Egress: rawIngress, Bus: bus}

	loop := func(t *nanorun.Thread) {
		p, ok := k.Poll(0, wholeBodyLen)
		if !ok {
			t.Sleep()
			return
		}
		ps.metrics.RecordPacket(p.Len(), false)
		frame := encodePacketFrame(p, out.ElementSize())
		if !out.HasSpace() {
			ps.metrics.RecordWriterBlocked()
		}
		out.Write(t, frame)
	}

	thread := nanorun.New(name, loop, ps.logger)
	ctx.BindThread(thread)
	ctx.AddChannel(outputName, out, nanoctx.FlagWriter)

	shim := &KernelShim{Name: name, Context: ctx, Thread: thread}
	ps.contexts = append(ps.contexts, ctx)
	ps.threads = append(ps.threads, thread)
	ps.kernels = append(ps.kernels, shim)
	ps.idle.Monitor(thread)

	return shim, nil
}

// AddChannelEgressStage builds the mirror-image bridge: it reads whole
// packet frames off inputName and chops each into raw bus words written
// to rawEgress, for an external consumer to Poll off the wire.
func (ps *ProcessingSystem) AddChannelEgressStage(name string, bus nanopacket.Bus, inputName string, rawEgress *nanochan.Channel) (*KernelShim, error) {
	in, err := ps.Channel(inputName)
	if err != nil {
		return nil, err
	}

	ctx := nanoctx.New(name, ps.logger)
	k := &nanokernel.ChannelKernel{Ingress: rawEgress, Bus: bus}

	inBuf := make([]byte, in.ElementSize())
	loop := func(t *nanorun.Thread) {
		if !in.TryRead(inBuf) {
			ps.metrics.RecordReaderBlocked()
			t.Sleep()
			return
		}
		p := decodePacketFrame(inBuf, bus)
		k.Process(t, p)
	}

	thread := nanorun.New(name, loop, ps.logger)
	ctx.BindThread(thread)
	ctx.AddChannel(inputName, in, nanoctx.FlagReader)

	shim := &KernelShim{Name: name, Context: ctx, Thread: thread}
	ps.contexts = append(ps.contexts, ctx)
	ps.threads = append(ps.threads, thread)
	ps.kernels = append(ps.kernels, shim)
	ps.idle.Monitor(thread)

	return shim, nil
}

// Flush blocks, bounded by timeout, until every stage thread and map
// arbiter is idle (asleep with no pending work), per spec §4.12's
// channel-kernel Flush contract. Must be called from the main thread.
func (ps *ProcessingSystem) Flush(timeout time.Duration) bool {
	deadline := ps.mainThread.InitTimer(timeout)
	for !ps.idle.IsIdle() {
		if ps.mainThread.CheckTimer(deadline) {
			return false
		}
		ps.mainThread.Sleep()
	}
	return true
}

// encodePacketFrame flattens p into a fixed-width channel element: three
// big-endian uint32 section lengths (header, body, capsule) followed by
// the concatenated section bytes, zero-padded to size. This is the
// software graph's channel transport granularity (whole encoded packets
// per element) rather than the hardware's per-bus-word streaming, which
// the lower-level nanotap/nanopacket/nanokernel packages implement and
// test directly; see DESIGN.md.
func encodePacketFrame(p *nanopacket.Packet, size int) []byte {
	frame := make([]byte, size)
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(p.Header)))
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(p.Body)))
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(p.Capsule)))
	off := 12
	off += copy(frame[off:], p.Header)
	off += copy(frame[off:], p.Body)
	copy(frame[off:], p.Capsule)
	return frame
}

// decodePacketFrame reverses encodePacketFrame.
func decodePacketFrame(frame []byte, bus nanopacket.Bus) *nanopacket.Packet {
	headerLen := int(binary.BigEndian.Uint32(frame[0:4]))
	bodyLen := int(binary.BigEndian.Uint32(frame[4:8]))
	capsuleLen := int(binary.BigEndian.Uint32(frame[8:12]))

	off := 12
	header := append([]byte(nil), frame[off:off+headerLen]...)
	off += headerLen
	body := append([]byte(nil), frame[off:off+bodyLen]...)
	off += bodyLen
	capsule := append([]byte(nil), frame[off:off+capsuleLen]...)

	return &nanopacket.Packet{Header: header, Body: body, Capsule: capsule, Bus: bus}
}
