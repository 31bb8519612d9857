package intercept

import (
	"context"
	"net/http"
	"time"

	"github.com/supergoodsystems/exfilguard-go/pkg/payload"
)

// Beacon is a fire-and-forget sender. SendBeacon reports whether the data
// was accepted for delivery.
type Beacon interface {
	SendBeacon(url string, body payload.Body) bool
}

// BeaconFunc adapts a function to Beacon.
type BeaconFunc func(url string, body payload.Body) bool

func (f BeaconFunc) SendBeacon(url string, body payload.Body) bool { return f(url, body) }

// GuardBeacon screens beacons before they reach next. Only bodies that render
// without decoding are inspected; binary beacons pass through unscreened.
func (e *Engine) GuardBeacon(next Beacon) Beacon {
	return &guardedBeacon{engine: e, next: next}
}

type guardedBeacon struct {
	engine *Engine
	next   Beacon
}

func (g *guardedBeacon) SendBeacon(url string, body payload.Body) bool {
	c := NewCall(SurfaceBeacon, MethodBeacon, url, body)
	if g.engine.hostCheck(c) {
		if text, ok := g.engine.bodySync(c); ok {
			if g.engine.decide(c, text) {
				return false
			}
		} else {
			g.engine.pass(c)
		}
	}
	return g.next.SendBeacon(url, body)
}

// Fetcher performs a call and returns its response.
type Fetcher interface {
	Fetch(ctx context.Context, call *OutboundCall) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, call *OutboundCall) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, call *OutboundCall) (*http.Response, error) {
	return f(ctx, call)
}

// GuardFetcher screens calls before they reach next. A blocked call fails
// with a *BlockedError and next is never invoked.
func (e *Engine) GuardFetcher(next Fetcher) Fetcher {
	return FetcherFunc(func(ctx context.Context, call *OutboundCall) (*http.Response, error) {
		return Fetch(ctx, e, call, func(ctx context.Context) (*http.Response, error) {
			return next.Fetch(ctx, call)
		})
	})
}

// Fetch screens call and runs next only if it is allowed. Textual bodies are
// decided before Fetch returns control to any decoder; binary bodies are
// decoded completely first. next is expected to perform the call with the
// caller's original arguments.
func Fetch[T any](ctx context.Context, e *Engine, call *OutboundCall, next func(context.Context) (T, error)) (T, error) {
	var zero T
	if e.Screen(ctx, call) {
		return zero, call.Err()
	}
	call.markDispatched()
	return next(ctx)
}

// Sender is the native half of a request object that reports completion
// through callbacks.
type Sender interface {
	// Dispatch starts the real request with body.
	Dispatch(body payload.Body)
	// Fail stops any in-flight request and finishes the object with err as
	// a network-level failure.
	Fail(err error)
}

// Send screens call and then dispatches or fails target.
//
// A call that is blocked synchronously is failed on a separate goroutine, so
// handlers attached right after Send still run. Binary bodies are decoded in
// the background; unless HoldUntilResolved is set, the request is dispatched
// once RaceDelay elapses if no block was decided by then. A block decided
// after dispatch still fails the in-flight request.
func (e *Engine) Send(ctx context.Context, call *OutboundCall, target Sender) {
	if !e.hostCheck(call) {
		e.dispatch(call, target)
		return
	}

	if text, ok := e.bodySync(call); ok {
		if e.decide(call, text) {
			err := call.Err()
			go target.Fail(err)
			return
		}
		e.dispatch(call, target)
		return
	}

	call.advance(StateAsyncResolve)
	texts := payload.TextAsync(ctx, call.Body)

	if e.hold {
		go func() {
			if e.decide(call, <-texts) {
				target.Fail(call.Err())
				return
			}
			e.dispatch(call, target)
		}()
		return
	}

	timer := time.AfterFunc(e.raceDelay, func() {
		e.dispatch(call, target)
	})
	go func() {
		if e.decide(call, <-texts) {
			timer.Stop()
			target.Fail(call.Err())
		}
	}()
}

func (e *Engine) dispatch(call *OutboundCall, target Sender) {
	if call.markDispatched() {
		target.Dispatch(call.Body)
	}
}
