// Package intercept screens outbound calls to watched hosts and blocks the
// ones whose query or body looks like it carries credentials.
//
// An [Engine] holds no per-call state. Each call is tracked by its own
// [OutboundCall], which walks PENDING → HOST_CHECK → BODY_RESOLVE →
// (ASYNC_RESOLVE) → DECIDE → PASSTHROUGH or BLOCKED. Three guards adapt the
// pipeline to the three call shapes:
//
//   - [Engine.GuardBeacon] for fire-and-forget sends that report acceptance,
//   - [Engine.GuardFetcher] and [Fetch] for calls that return a result or error,
//   - [Engine.Send] for request objects that report completion via callbacks.
package intercept

import (
	"context"
	"time"

	"github.com/supergoodsystems/exfilguard-go/pkg/detect"
	"github.com/supergoodsystems/exfilguard-go/pkg/event"
	"github.com/supergoodsystems/exfilguard-go/pkg/hostmatch"
	"github.com/supergoodsystems/exfilguard-go/pkg/payload"
)

// DefaultRaceDelay bounds how long an event-based call with a binary body
// waits for its body to be decoded before it is sent anyway.
const DefaultRaceDelay = 50 * time.Millisecond

// Emitter receives one event per blocked call. Emit must not block.
type Emitter interface {
	Emit(b *event.Block)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(b *event.Block)

func (f EmitterFunc) Emit(b *event.Block) { f(b) }

// Observer is told the terminal state of every screened call.
type Observer interface {
	Observe(surface Surface, state State)
}

// Config configures an Engine. Zero values select the defaults.
type Config struct {
	// Hosts selects the guarded destinations (defaults to hostmatch.Default()).
	Hosts *hostmatch.Matcher
	// Detector scores normalized text (defaults to detect.Default()).
	Detector *detect.Detector
	Emitter  Emitter
	Observer Observer
	// RaceDelay is the bounded wait of the event-based surface
	// (defaults to DefaultRaceDelay).
	RaceDelay time.Duration
	// HoldUntilResolved makes the event-based surface wait for the body to be
	// fully decoded instead of racing RaceDelay.
	HoldUntilResolved bool
}

// Engine is safe for concurrent use.
type Engine struct {
	hosts     *hostmatch.Matcher
	detector  *detect.Detector
	emitter   Emitter
	observer  Observer
	raceDelay time.Duration
	hold      bool
}

// New builds an engine.
func New(cfg Config) *Engine {
	e := &Engine{
		hosts:     cfg.Hosts,
		detector:  cfg.Detector,
		emitter:   cfg.Emitter,
		observer:  cfg.Observer,
		raceDelay: cfg.RaceDelay,
		hold:      cfg.HoldUntilResolved,
	}
	if e.hosts == nil {
		e.hosts = hostmatch.Default()
	}
	if e.detector == nil {
		e.detector = detect.Default()
	}
	if e.raceDelay <= 0 {
		e.raceDelay = DefaultRaceDelay
	}
	return e
}

// Watched reports whether rawURL targets a guarded host.
func (e *Engine) Watched(rawURL string) bool {
	return e.hosts.Match(rawURL)
}

// Hosts returns the host matcher.
func (e *Engine) Hosts() *hostmatch.Matcher {
	return e.hosts
}

// Screen runs the whole pipeline on c, waiting for binary bodies to be fully
// decoded, and reports whether c was blocked.
func (e *Engine) Screen(ctx context.Context, c *OutboundCall) bool {
	if !e.hostCheck(c) {
		return false
	}
	if text, ok := e.bodySync(c); ok {
		return e.decide(c, text)
	}
	c.advance(StateAsyncResolve)
	return e.decide(c, payload.Text(ctx, c.Body))
}

// hostCheck lets unwatched calls through and leaves watched calls in
// BODY_RESOLVE.
func (e *Engine) hostCheck(c *OutboundCall) bool {
	c.advance(StateHostCheck)
	if !e.Watched(c.URL) {
		e.pass(c)
		return false
	}
	c.advance(StateBodyResolve)
	return true
}

func (e *Engine) bodySync(c *OutboundCall) (string, bool) {
	return payload.TextSync(c.Body)
}

// decide scores the query of c together with body and finishes c.
func (e *Engine) decide(c *OutboundCall, body string) bool {
	c.advance(StateDecide)
	text := payload.Compose(c.URL, body)
	if !e.suspicious(text) {
		e.pass(c)
		return false
	}
	if c.block(text) {
		e.emit(c, text)
		e.observe(c.Surface, StateBlocked)
	}
	return true
}

func (e *Engine) pass(c *OutboundCall) {
	if c.advance(StatePassthrough) {
		e.observe(c.Surface, StatePassthrough)
	}
}

func (e *Engine) suspicious(text string) (hit bool) {
	defer func() {
		if r := recover(); r != nil {
			hit = false
		}
	}()
	return e.detector.ContainsSuspicious(text)
}

func (e *Engine) emit(c *OutboundCall, evidence string) {
	if e.emitter == nil {
		return
	}
	defer func() { _ = recover() }()

	b := event.NewBlock(c.URL, c.Method, evidence)
	b.Source = string(c.Surface)
	b.TabID = c.TabID
	b.TabURL = c.TabURL
	e.emitter.Emit(b)
}

func (e *Engine) observe(s Surface, st State) {
	if e.observer == nil {
		return
	}
	defer func() { _ = recover() }()
	e.observer.Observe(s, st)
}
