// Command nanotube-example wires a small packet graph: a raw-bus-word
// boundary on each side, an uppercasing stage, a write-tap stage that
// tags each packet's capsule, and a length-counting stage backed by an
// arbitrated map, and drives it from a handful of synthetic packets.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/behrlich/nanotube"
	"github.com/behrlich/nanotube/internal/logging"
	"github.com/behrlich/nanotube/internal/nanokernel"
	"github.com/behrlich/nanotube/internal/nanomap"
	"github.com/behrlich/nanotube/internal/nanopacket"
	"github.com/behrlich/nanotube/internal/nanorun"
	"github.com/behrlich/nanotube/internal/nanotap"
)

const bus = nanopacket.BusETH

func setup(ps *nanotube.ProcessingSystem) {
	rawIngress, err := ps.AddChannel(nanotube.RawChannelConfig("raw-ingress", bus))
	if err != nil {
		logging.Default().Error("failed to add raw ingress channel", "error", err)
		os.Exit(1)
	}
	if _, err := ps.AddChannel(nanotube.DefaultChannelConfig("ingress")); err != nil {
		logging.Default().Error("failed to add ingress channel", "error", err)
		os.Exit(1)
	}
	if _, err := ps.AddChannel(nanotube.DefaultChannelConfig("tagged")); err != nil {
		logging.Default().Error("failed to add tagged channel", "error", err)
		os.Exit(1)
	}
	if _, err := ps.AddChannel(nanotube.DefaultChannelConfig("middle")); err != nil {
		logging.Default().Error("failed to add middle channel", "error", err)
		os.Exit(1)
	}
	if _, err := ps.AddChannel(nanotube.DefaultChannelConfig("egress")); err != nil {
		logging.Default().Error("failed to add egress channel", "error", err)
		os.Exit(1)
	}
	rawEgress, err := ps.AddChannel(nanotube.RawChannelConfig("raw-egress", bus))
	if err != nil {
		logging.Default().Error("failed to add raw egress channel", "error", err)
		os.Exit(1)
	}

	// Boundary stage: reassemble whole packets from raw, EOP-delimited bus
	// words arriving on raw-ingress (what a NIC shim would hand the graph)
	// before anything else touches them.
	if _, err := ps.AddChannelIngressStage("ingress-bridge", bus, rawIngress, "ingress"); err != nil {
		logging.Default().Error("failed to add ingress bridge stage", "error", err)
		os.Exit(1)
	}

	// Stage 1: uppercase the packet body.
	_, err = ps.AddFunctionStage("uppercase", bus, false,
		func(ctx any, p *nanopacket.Packet) nanokernel.Verdict {
			for i := range p.Body {
				if p.Body[i] >= 'a' && p.Body[i] <= 'z' {
					p.Body[i] -= 'a' - 'A'
				}
			}
			return nanokernel.Pass
		}, "ingress", "tagged")
	if err != nil {
		logging.Default().Error("failed to add uppercase stage", "error", err)
		os.Exit(1)
	}

	// Stage 2: overlay a fixed marker onto the first 4 body bytes using the
	// real per-word write tap, chunked across bus words rather than patched
	// as a flat byte slice.
	_, err = ps.AddFunctionStage("tag", bus, false,
		func(ctx any, p *nanopacket.Packet) nanokernel.Verdict {
			nanotube.ApplyWriteTap(p, nanotap.WriteRequest{
				Valid:       true,
				WriteOffset: 0,
				WriteLength: 4,
				Data:        []byte{'N', 'T', 'B', '!'},
				Mask:        []byte{0x0F},
			})
			return nanokernel.Pass
		}, "tagged", "middle")
	if err != nil {
		logging.Default().Error("failed to add tag stage", "error", err)
		os.Exit(1)
	}

	// A small array-backed map counting packets per fixed 4-byte port key,
	// served through a map tap arbiter so any number of stages could share
	// it safely; this graph only has one client, "count".
	counts := nanomap.NewArray(1, 4, 4, 256)
	if err := ps.AddMapBackend(counts); err != nil {
		logging.Default().Error("failed to register map backend", "error", err)
		os.Exit(1)
	}
	arbiter := ps.AddArbiter(nanomap.ArbiterConfig{Backend: counts, NumClients: 1, DataOutSize: 4})

	// Stage 3: tag the capsule with the port's running packet count via the
	// arbiter, rather than calling the backend directly. Array slots are
	// always present for an in-range key, so this is a plain
	// read-increment-write with no insert/absent branch to handle.
	_, err = ps.AddMapKernelStage("count", bus, arbiter, 4,
		func(p *nanopacket.Packet, dispatch func(nanomap.Request) nanomap.Response) nanokernel.Verdict {
			key := make([]byte, 4)
			key[0] = byte(p.PortID)

			read := dispatch(nanomap.Request{Op: nanomap.OpREAD, Key: key, WantRes: true, Length: 4})
			existing := read.DataOut
			n := uint32(existing[0])<<24 | uint32(existing[1])<<16 | uint32(existing[2])<<8 | uint32(existing[3])
			n++
			updated := []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
			dispatch(nanomap.Request{Op: nanomap.OpWRITE, Key: key, DataIn: updated, Mask: []byte{0x0F}, Length: 4})

			p.Capsule = updated
			return nanokernel.Pass
		}, "middle", "egress")
	if err != nil {
		logging.Default().Error("failed to add count stage", "error", err)
		os.Exit(1)
	}

	// Boundary stage: chop finished whole packets back into raw bus words
	// for an external consumer to poll off raw-egress.
	if _, err := ps.AddChannelEgressStage("egress-bridge", bus, "egress", rawEgress); err != nil {
		logging.Default().Error("failed to add egress bridge stage", "error", err)
		os.Exit(1)
	}

	ps.ExposeWrite(rawIngress)
	ps.ExposeRead(rawEgress)
}

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	params := nanotube.DefaultProcessingSystemParams()
	params.Logger = logger
	ps := nanotube.New(params)

	if err := ps.Attach(setup); err != nil {
		logger.Error("failed to attach processing system", "error", err)
		os.Exit(1)
	}
	defer ps.Detach()

	rawIngress, err := ps.Channel("raw-ingress")
	if err != nil {
		logger.Error("raw ingress channel missing", "error", err)
		os.Exit(1)
	}
	rawEgress, err := ps.Channel("raw-egress")
	if err != nil {
		logger.Error("raw egress channel missing", "error", err)
		os.Exit(1)
	}

	// producer/consumer are unstarted threads bound purely so ChannelKernel
	// can block on the raw channels' own Sleep/Wake contract if they ever
	// fill up; with the default depth that never happens for this demo.
	producer := nanorun.New("producer", nil, logger)
	rawIngress.BindWriter(producer)
	consumer := nanorun.New("consumer", nil, logger)
	rawEgress.BindReader(consumer)

	ingressKernel := &nanokernel.ChannelKernel{Ingress: rawIngress, Bus: bus}
	egressKernel := &nanokernel.ChannelKernel{Egress: rawEgress, Bus: bus}

	messages := []string{"hello", "world", "nanotube"}
	for i, msg := range messages {
		p := &nanopacket.Packet{Body: []byte(msg), Bus: bus, PortID: 0}
		ingressKernel.Process(producer, p)
		fmt.Printf("sent packet %d: %q\n", i, msg)
	}

	if !ps.Flush(2 * time.Second) {
		logger.Warn("flush timed out before the graph drained")
	}

	for i := 0; i < len(messages); i++ {
		p, ok := egressKernel.Poll(0, len(messages[i]))
		if !ok {
			break
		}
		fmt.Printf("received packet %d: %q (count=%v)\n", i, p.Body, p.Capsule)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	fmt.Println("graph drained, press Ctrl+C to exit")
	<-sigCh
	logger.Info("received shutdown signal")
}
