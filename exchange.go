package exfilguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/supergoodsystems/exfilguard-go/pkg/intercept"
	"github.com/supergoodsystems/exfilguard-go/pkg/payload"
)

// ReadyState is the lifecycle position of an Exchange.
type ReadyState int

const (
	Unsent ReadyState = iota
	Opened
	HeadersReceived
	Loading
	Done
)

// ErrAborted finishes an Exchange stopped with Abort.
var ErrAborted = errors.New("exfilguard: exchange aborted")

// Exchange is a request object that is configured, sent, and then reports
// completion through callbacks, like a browser XMLHttpRequest.
//
// Handlers registered after the exchange finished run immediately, on their
// own goroutine, so a handler attached right after Send is never missed.
type Exchange struct {
	sg     *Service
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	method     string
	url        string
	header     http.Header
	call       *intercept.OutboundCall
	state      ReadyState
	status     int
	statusText string
	response   []byte
	err        error
	onLoad     []func(*Exchange)
	onError    []func(*Exchange, error)
	done       chan struct{}
}

// NewExchange creates an unsent exchange bound to parent.
func (sg *Service) NewExchange(parent context.Context) *Exchange {
	ctx, cancel := context.WithCancel(parent)
	return &Exchange{
		sg:     sg,
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
		header: http.Header{},
		done:   make(chan struct{}),
	}
}

// Open sets the method and URL.
func (x *Exchange) Open(method, rawURL string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.call != nil {
		return fmt.Errorf("exfilguard: exchange already sent")
	}
	if method == "" {
		method = http.MethodGet
	}
	x.method, x.url = method, rawURL
	x.state = Opened
	return nil
}

// SetHeader sets a request header. It must be called between Open and Send.
func (x *Exchange) SetHeader(key, value string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.header.Set(key, value)
}

// OnLoad registers a handler for a completed HTTP response of any status.
func (x *Exchange) OnLoad(fn func(*Exchange)) {
	x.mu.Lock()
	if x.state != Done {
		x.onLoad = append(x.onLoad, fn)
		x.mu.Unlock()
		return
	}
	failed := x.err != nil
	x.mu.Unlock()
	if !failed {
		go fn(x)
	}
}

// OnError registers a handler for network failures, blocks and aborts.
func (x *Exchange) OnError(fn func(*Exchange, error)) {
	x.mu.Lock()
	if x.state != Done {
		x.onError = append(x.onError, fn)
		x.mu.Unlock()
		return
	}
	err := x.err
	x.mu.Unlock()
	if err != nil {
		go fn(x, err)
	}
}

// Send starts the exchange. Calls to watched hosts are screened first; a
// blocked exchange finishes with status 0, status text "Blocked" and an error
// wrapping ErrBlocked, and nothing is sent.
//
// Binary bodies are decoded under the context given to NewExchange, so a
// verdict reached after the exchange finished still marks it blocked and
// raises an alert.
func (x *Exchange) Send(body payload.Body) error {
	x.mu.Lock()
	if x.state != Opened || x.call != nil {
		x.mu.Unlock()
		return fmt.Errorf("exfilguard: exchange must be opened and not yet sent")
	}
	x.call = intercept.NewCall(intercept.SurfaceExchange, x.method, x.url, body)
	call := x.call
	x.mu.Unlock()

	x.sg.Engine.Send(x.parent, call, (*exchangeSender)(x))
	return nil
}

// Abort stops the exchange and finishes it with ErrAborted.
func (x *Exchange) Abort() {
	x.cancel()
	x.finish(0, "", nil, ErrAborted)
}

// Wait blocks until the exchange finishes and returns its error.
func (x *Exchange) Wait() error {
	<-x.done
	return x.Err()
}

// Done is closed when the exchange finishes.
func (x *Exchange) Done() <-chan struct{} {
	return x.done
}

func (x *Exchange) ReadyState() ReadyState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

func (x *Exchange) Status() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

func (x *Exchange) StatusText() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.statusText
}

// Response returns the response body once the exchange is done.
func (x *Exchange) Response() []byte {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.response
}

func (x *Exchange) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Blocked reports whether the guard stopped this exchange.
func (x *Exchange) Blocked() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.call != nil && x.call.Blocked()
}

// finish moves to Done once and runs the matching handlers.
func (x *Exchange) finish(status int, statusText string, body []byte, err error) {
	x.mu.Lock()
	if x.state == Done {
		x.mu.Unlock()
		return
	}
	x.state = Done
	x.status, x.statusText, x.response, x.err = status, statusText, body, err
	onLoad, onError := x.onLoad, x.onError
	x.onLoad, x.onError = nil, nil
	x.mu.Unlock()

	close(x.done)
	x.cancel()
	if err != nil {
		for _, fn := range onError {
			fn(x, err)
		}
		return
	}
	for _, fn := range onLoad {
		fn(x)
	}
}

func (x *Exchange) setState(s ReadyState) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state != Done {
		x.state = s
	}
}

// exchangeSender is the unguarded half of an Exchange, driven by the engine.
type exchangeSender Exchange

func (s *exchangeSender) Dispatch(body payload.Body) {
	go (*Exchange)(s).do(body)
}

func (s *exchangeSender) Fail(err error) {
	x := (*Exchange)(s)
	x.cancel()
	statusText := ""
	if errors.Is(err, intercept.ErrBlocked) {
		statusText = "Blocked"
	}
	x.finish(0, statusText, nil, err)
}

func (x *Exchange) do(body payload.Body) {
	r, contentType, err := payload.Encode(body)
	if err != nil {
		x.finish(0, "", nil, err)
		return
	}

	x.mu.Lock()
	req, err := http.NewRequestWithContext(x.ctx, x.method, x.url, r)
	if err == nil {
		req.Header = x.header.Clone()
		if contentType != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", contentType)
		}
	}
	x.mu.Unlock()
	if err != nil {
		x.finish(0, "", nil, err)
		return
	}

	resp, err := x.sg.options.HTTPClient.Do(req)
	if err != nil {
		x.finish(0, "", nil, err)
		return
	}
	defer resp.Body.Close()

	x.setState(HeadersReceived)
	x.setState(Loading)
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		x.finish(0, "", nil, err)
		return
	}
	x.finish(resp.StatusCode, http.StatusText(resp.StatusCode), data, nil)
}
