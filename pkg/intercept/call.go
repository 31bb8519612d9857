package intercept

import (
	"sync"

	"github.com/supergoodsystems/exfilguard-go/pkg/payload"
)

// Surface names the kind of outbound API a call came through.
type Surface string

const (
	SurfaceFetch    Surface = "fetch"
	SurfaceBeacon   Surface = "beacon"
	SurfaceExchange Surface = "exchange"
	SurfacePage     Surface = "page"
)

// MethodBeacon is reported as the method of fire-and-forget calls.
const MethodBeacon = "BEACON"

// State is the position of a call in the screening pipeline.
type State int32

const (
	StatePending State = iota
	StateHostCheck
	StateBodyResolve
	StateAsyncResolve
	StateDecide
	StatePassthrough
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateHostCheck:
		return "HOST_CHECK"
	case StateBodyResolve:
		return "BODY_RESOLVE"
	case StateAsyncResolve:
		return "ASYNC_RESOLVE"
	case StateDecide:
		return "DECIDE"
	case StatePassthrough:
		return "PASSTHROUGH"
	case StateBlocked:
		return "BLOCKED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePassthrough || s == StateBlocked
}

// OutboundCall is one intercepted invocation. Method, URL and Body are the
// caller's original arguments and are never modified.
type OutboundCall struct {
	Surface Surface
	Method  string
	URL     string
	Body    payload.Body

	// TabID and TabURL identify the originating page, when there is one.
	TabID  string
	TabURL string

	mu         sync.Mutex
	state      State
	evidence   string
	dispatched bool
}

// NewCall starts a call in StatePending.
func NewCall(surface Surface, method, url string, body payload.Body) *OutboundCall {
	return &OutboundCall{Surface: surface, Method: method, URL: url, Body: body}
}

// State returns the current state.
func (c *OutboundCall) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Blocked reports whether the call reached StateBlocked.
func (c *OutboundCall) Blocked() bool {
	return c.State() == StateBlocked
}

// Evidence is the text that caused the block, or "".
func (c *OutboundCall) Evidence() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evidence
}

// Err returns a *BlockedError for a blocked call and nil otherwise.
func (c *OutboundCall) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBlocked {
		return nil
	}
	return &BlockedError{Surface: c.Surface, URL: c.URL, Method: c.Method, Evidence: c.evidence}
}

// Dispatched reports whether the real call was started.
func (c *OutboundCall) Dispatched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatched
}

// advance moves to s unless the call already finished.
func (c *OutboundCall) advance(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return false
	}
	c.state = s
	return true
}

// block finishes the call as blocked. It succeeds at most once.
func (c *OutboundCall) block(evidence string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return false
	}
	c.state = StateBlocked
	c.evidence = evidence
	return true
}

// markDispatched records that the real call is about to start, unless the
// call was blocked first.
func (c *OutboundCall) markDispatched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateBlocked || c.dispatched {
		return false
	}
	c.dispatched = true
	return true
}
