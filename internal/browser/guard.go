// Package browser screens the outbound requests of Chrome pages over the
// DevTools protocol. Requests to the watched hosts are paused by the Fetch
// domain, screened by an intercept.Engine, and then either continued or
// failed as blocked by client, with a warning overlay shown in the page.
package browser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"golang.org/x/sync/errgroup"

	"github.com/supergoodsystems/exfilguard-go/internal/logger"
	"github.com/supergoodsystems/exfilguard-go/internal/overlay"
	"github.com/supergoodsystems/exfilguard-go/pkg/event"
	"github.com/supergoodsystems/exfilguard-go/pkg/intercept"
	"github.com/supergoodsystems/exfilguard-go/pkg/payload"
)

// Options configure a Guard.
type Options struct {
	// DevToolsURL is the browser's remote debugging endpoint,
	// e.g. http://127.0.0.1:9222.
	DevToolsURL string
	// TargetID restricts the guard to one page. All pages are guarded if empty.
	TargetID string
	// Engine screens the paused requests. Its host matcher also selects
	// which requests are paused.
	Engine *intercept.Engine
	Logger logger.Logger
	// DisableOverlay skips the in-page warning.
	DisableOverlay bool
	// RescanInterval is how often new pages are looked for (defaults to 2s).
	RescanInterval time.Duration
	// DecisionTimeout bounds reading a request body from the browser
	// (defaults to 3s).
	DecisionTimeout time.Duration
}

// Guard attaches to every eligible page of one browser.
type Guard struct {
	opts Options
	dt   *devtool.DevTools
	log  logger.Logger

	mu       sync.Mutex
	attached map[string]string
}

// New validates o and returns an idle guard. Call Run to start it.
func New(o Options) (*Guard, error) {
	if o.DevToolsURL == "" {
		return nil, fmt.Errorf("browser: DevToolsURL is required")
	}
	if o.Engine == nil {
		return nil, fmt.Errorf("browser: Engine is required")
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.RescanInterval <= 0 {
		o.RescanInterval = 2 * time.Second
	}
	if o.DecisionTimeout <= 0 {
		o.DecisionTimeout = 3 * time.Second
	}
	return &Guard{
		opts:     o,
		dt:       devtool.New(o.DevToolsURL),
		log:      o.Logger,
		attached: make(map[string]string),
	}, nil
}

// Attached returns the IDs of the pages currently guarded.
func (g *Guard) Attached() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.attached))
	for id := range g.attached {
		out = append(out, id)
	}
	return out
}

// Run guards pages until ctx is cancelled. It fails only if the browser
// cannot be reached at all.
func (g *Guard) Run(ctx context.Context) error {
	targets, err := g.dt.List(ctx)
	if err != nil {
		return fmt.Errorf("browser: listing targets at %s: %w", g.opts.DevToolsURL, err)
	}

	grp, ctx := errgroup.WithContext(ctx)
	g.attachAll(ctx, grp, targets)
	grp.Go(func() error {
		ticker := time.NewTicker(g.opts.RescanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			targets, err := g.dt.List(ctx)
			if err != nil {
				if ctx.Err() == nil {
					g.log.Err(err, "listing targets")
				}
				continue
			}
			g.attachAll(ctx, grp, targets)
		}
	})
	return grp.Wait()
}

func (g *Guard) attachAll(ctx context.Context, grp *errgroup.Group, targets []*devtool.Target) {
	for _, t := range targets {
		if !g.eligible(t) || !g.claim(t) {
			continue
		}
		t := t
		grp.Go(func() error {
			defer g.release(t)
			if err := g.guard(ctx, t); err != nil && ctx.Err() == nil {
				g.log.Err(err, "page guard stopped", "target", t.ID, "url", t.URL)
			}
			return nil
		})
	}
}

func (g *Guard) eligible(t *devtool.Target) bool {
	if t.Type != devtool.Page || t.WebSocketDebuggerURL == "" {
		return false
	}
	if g.opts.TargetID != "" && t.ID != g.opts.TargetID {
		return false
	}
	return Injectable(t.URL)
}

func (g *Guard) claim(t *devtool.Target) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.attached[t.ID]; ok {
		return false
	}
	g.attached[t.ID] = t.URL
	return true
}

func (g *Guard) release(t *devtool.Target) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attached, t.ID)
}

// guard pauses the watched requests of one page and screens them until the
// page goes away or ctx is cancelled.
func (g *Guard) guard(ctx context.Context, t *devtool.Target) error {
	conn, err := rpcc.DialContext(ctx, t.WebSocketDebuggerURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	c := cdp.NewClient(conn)

	if err := c.Network.Enable(ctx, nil); err != nil {
		return err
	}
	if err := c.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: requestPatterns(g.opts.Engine)}); err != nil {
		return err
	}
	paused, err := c.Fetch.RequestPaused(ctx)
	if err != nil {
		return err
	}
	defer paused.Close()
	g.log.Info("guarding page", "target", t.ID, "url", t.URL)

	for {
		ev, err := paused.Recv()
		if err != nil {
			return err
		}
		go g.handle(ctx, c, t, ev)
	}
}

func requestPatterns(e *intercept.Engine) []fetch.RequestPattern {
	var out []fetch.RequestPattern
	for _, p := range e.Hosts().Patterns() {
		p := p
		out = append(out, fetch.RequestPattern{URLPattern: &p, RequestStage: fetch.RequestStageRequest})
	}
	return out
}

// handle decides one paused request. Any failure on the way continues the
// request unchanged.
func (g *Guard) handle(ctx context.Context, c *cdp.Client, t *devtool.Target, ev *fetch.RequestPausedReply) {
	dctx, cancel := context.WithTimeout(ctx, g.opts.DecisionTimeout)
	defer cancel()

	blocked := false
	var call *intercept.OutboundCall
	func() {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("screening paused request panicked", "panic", fmt.Sprint(r), "url", ev.Request.URL)
				blocked = false
			}
		}()
		call = newCall(ev, t, func(id string) (string, error) {
			reply, err := c.Network.GetRequestPostData(dctx, network.NewGetRequestPostDataArgs(network.RequestID(id)))
			if err != nil {
				return "", err
			}
			return reply.PostData, nil
		})
		blocked = g.opts.Engine.Screen(dctx, call)
	}()

	if !blocked {
		if err := c.Fetch.ContinueRequest(ctx, fetch.NewContinueRequestArgs(ev.RequestID)); err != nil && ctx.Err() == nil {
			g.log.Err(err, "continuing request", "url", ev.Request.URL)
		}
		return
	}

	if err := c.Fetch.FailRequest(ctx, fetch.NewFailRequestArgs(ev.RequestID, network.ErrorReasonBlockedByClient)); err != nil {
		g.log.Err(err, "failing blocked request", "url", call.URL)
	}
	if g.opts.DisableOverlay {
		return
	}
	b := event.NewBlock(call.URL, call.Method, call.Evidence())
	script, err := overlay.Script(b)
	if err != nil {
		g.log.Err(err, "building overlay")
		return
	}
	if _, err := c.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(script)); err != nil {
		g.log.Err(err, "showing overlay", "target", t.ID)
	}
}

// postDataFunc fetches a request body the pause event did not carry.
type postDataFunc func(networkID string) (string, error)

// newCall describes a paused request as an outbound call of the page
// surface. Pings are reported with the beacon method.
func newCall(ev *fetch.RequestPausedReply, t *devtool.Target, fetchBody postDataFunc) *intercept.OutboundCall {
	method := ev.Request.Method
	if string(ev.ResourceType) == "Ping" {
		method = intercept.MethodBeacon
	}
	p := parsePaused(ev)
	call := intercept.NewCall(intercept.SurfacePage, method, ev.Request.URL+p.fragment, p.body(fetchBody))
	if t != nil {
		call.TabID = t.ID
		call.TabURL = t.URL
	}
	return call
}

func (p paused) body(fetchBody postDataFunc) payload.Body {
	switch {
	case p.hasText:
		return payload.String(p.text)
	case p.entries != nil:
		return payload.Bytes(p.entries)
	case p.hasPostData && fetchBody != nil:
		id := p.networkID
		return payload.Blob(func() (io.ReadCloser, error) {
			s, err := fetchBody(id)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(strings.NewReader(s)), nil
		})
	default:
		return payload.Absent()
	}
}

// Injectable reports whether a page at rawURL can be guarded. Browser
// internal pages, extensions and local documents are skipped.
func Injectable(rawURL string) bool {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(u, prefix) {
			return false
		}
	}
	return true
}

var forbiddenPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"chrome-untrusted://",
	"devtools://",
	"about:",
	"view-source:",
	"data:",
	"file://",
	"edge://",
	"brave://",
	"opera://",
}
