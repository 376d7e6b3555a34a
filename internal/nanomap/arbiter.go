package nanomap

import (
	"github.com/behrlich/nanotube/internal/logging"
	"github.com/behrlich/nanotube/internal/nanorun"
)

const (
	requestDepth  = 8
	responseDepth = 16
)

// Request is what a client sends to the arbiter's service thread.
type Request struct {
	Op      MapOp
	Key     []byte
	DataIn  []byte
	Mask    []byte
	Offset  int
	Length  int
	WantRes bool // "response needs result" per spec §3.6
}

// Response is what the arbiter's service thread sends back.
type Response struct {
	Result  Result
	HasData bool
	Length  int
	DataOut []byte
}

// client holds one arbiter client's channels and latched-request state.
type client struct {
	req  chan Request
	resp chan Response

	latched    bool
	pending    Request
	dataOutLen int
}

// ArbiterConfig fixes the build-time parameters of an Arbiter (spec §4.6
// "build-time" step): backend shape and expected client count.
type ArbiterConfig struct {
	Backend     Backend
	NumClients  int
	DataOutSize int // per-client response data_out width, common across clients for simplicity
}

// Arbiter is the map tap arbiter: a single service goroutine owning one
// backend and serving M clients with round-robin-ish, latch-based
// arbitration (spec §3.6/§4.6).
type Arbiter struct {
	backend Backend
	logger  *logging.Logger

	clients     []*client
	expectedNum int

	thread *nanorun.Thread
}

// NewArbiter creates an arbiter over cfg.Backend expecting cfg.NumClients
// clients to be added via AddClient before Start.
func NewArbiter(cfg ArbiterConfig, logger *logging.Logger) *Arbiter {
	return &Arbiter{
		backend:     cfg.Backend,
		logger:      logger,
		expectedNum: cfg.NumClients,
	}
}

// AddClient registers one client's request/response channel pair, returning
// the client index (used by callers to address Send/Recv). dataOutLen
// bounds how many bytes of the backend's data_out are copied into this
// client's response.
func (a *Arbiter) AddClient(dataOutLen int) int {
	c := &client{
		req:        make(chan Request, requestDepth),
		resp:       make(chan Response, responseDepth),
		dataOutLen: dataOutLen,
	}
	a.clients = append(a.clients, c)
	return len(a.clients) - 1
}

// Start verifies the configured client count was met and launches the
// service thread. Fatal if the client count added via AddClient does not
// match NumClients, per spec §4.6's build-time contract.
func (a *Arbiter) Start(logger *logging.Logger) *nanorun.Thread {
	if len(a.clients) != a.expectedNum {
		nanorun.Fatal("nanomap arbiter: %d clients added, expected %d", len(a.clients), a.expectedNum)
	}
	a.thread = nanorun.New("map-arbiter", a.serviceOnce, logger)
	a.thread.Start()
	return a.thread
}

// Stop halts the service thread.
func (a *Arbiter) Stop() {
	if a.thread != nil {
		a.thread.Stop()
	}
}

// Send submits a request on behalf of client idx. Returns false if the
// client's request channel is full (backpressure to the caller, matching
// the channel's own try_write semantics).
func (a *Arbiter) Send(idx int, req Request) bool {
	select {
	case a.clients[idx].req <- req:
		if a.thread != nil {
			a.thread.Wake()
		}
		return true
	default:
		return false
	}
}

// Recv retrieves a pending response for client idx, if any.
func (a *Arbiter) Recv(idx int) (Response, bool) {
	select {
	case resp := <-a.clients[idx].resp:
		return resp, true
	default:
		return Response{}, false
	}
}

// serviceOnce implements one invocation of the scan-latch-dispatch loop,
// spec §4.6 steps 1-6, as a nanorun.Func body.
func (a *Arbiter) serviceOnce(t *nanorun.Thread) {
	anyLatched := false
	for _, c := range a.clients {
		if c.latched {
			anyLatched = true
			break
		}
	}

	progressed := false
	if !anyLatched {
		// Step 1: no client currently has a latched request — attempt a
		// read from each client's request channel. If any client already
		// had a latched flag this step is skipped entirely, preventing
		// head-of-line overtake.
		for _, c := range a.clients {
			select {
			case req := <-c.req:
				c.pending = req
				c.latched = true
				progressed = true
			default:
			}
		}
	}

	var selected *client
	for _, c := range a.clients {
		if c.latched {
			selected = c
			break
		}
	}

	if selected == nil {
		if !progressed {
			// Step 2: no progress at all this slot.
			t.Sleep()
		}
		return
	}

	// Step 3: clear the selected client's latch; truncate/zero-pad
	// key_in/data_in to the backend widths.
	selected.latched = false
	req := selected.pending

	key := fitTo(req.Key, a.backend.KeyLength())
	dataIn := fitTo(req.DataIn, a.backend.ValueLength())

	dataOut := make([]byte, a.backend.ValueLength())

	// Step 4: invoke the backend operation exactly once.
	n, result := a.backend.Apply(req.Op, key, dataIn, dataOut, req.Mask, req.Offset, req.Length)

	// Step 5: build and send the response.
	outLen := selected.dataOutLen
	resp := Response{Result: result, HasData: req.WantRes}
	resp.Length = n
	if outLen > 0 {
		out := make([]byte, outLen)
		copyLen := n
		if copyLen > outLen {
			copyLen = outLen
		}
		if copyLen > 0 {
			copy(out, dataOut[:copyLen])
		}
		resp.DataOut = out
	}
	selected.resp <- resp
}

// fitTo truncates or zero-pads b to exactly n bytes.
func fitTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}
