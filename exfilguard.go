// Package exfilguard blocks outbound calls that smuggle credentials to
// Telegram.
//
// Calls to the watched hosts (telegram.org and api.telegram.org by default)
// are screened before they reach the network: the query string and body are
// rendered as text and checked for credential-like content. Suspicious calls
// fail with an error wrapping [ErrBlocked]; everything else goes through
// unchanged.
//
// You can use it globally by overriding [http.DefaultClient] with a guarded
// version, or more selectively by wrapping specific clients in your
// codebase. [Service.Beacon] and [Service.NewExchange] guard fire-and-forget
// and callback style requests.
package exfilguard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/supergoodsystems/exfilguard-go/internal/alertstore"
	"github.com/supergoodsystems/exfilguard-go/internal/bus"
	"github.com/supergoodsystems/exfilguard-go/internal/logger"
	"github.com/supergoodsystems/exfilguard-go/pkg/detect"
	"github.com/supergoodsystems/exfilguard-go/pkg/event"
	"github.com/supergoodsystems/exfilguard-go/pkg/hostmatch"
	"github.com/supergoodsystems/exfilguard-go/pkg/intercept"
)

// ErrBlocked is wrapped by the error of every blocked call.
var ErrBlocked = intercept.ErrBlocked

// ErrNoHistory is returned by the history methods when no AlertDSN is set.
var ErrNoHistory = errors.New("exfilguard: alert history is disabled (no AlertDSN)")

// New creates a new exfilguard service.
// An error is returned only if the configuration is invalid or the alert
// history cannot be opened.
func New(o *Options) (*Service, error) {
	o, err := o.parse()
	if err != nil {
		return nil, err
	}

	cfg := logger.Config{Level: o.LogLevel}
	if o.LogFile != "" {
		cfg.Writers = []string{"console", "file"}
		cfg.File = o.LogFile
	}
	log, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("exfilguard: %w", err)
	}
	if o.OnError == nil {
		o.OnError = func(e error) {
			log.Err(e, "exfilguard background error")
		}
	}

	m, err := newMetrics(o.Registerer)
	if err != nil {
		return nil, fmt.Errorf("exfilguard: registering metrics: %w", err)
	}

	sg := &Service{
		options: o,
		log:     log,
		metrics: m,
	}

	if o.AlertDSN != "" {
		sg.store, err = alertstore.Open(alertstore.Options{DSN: o.AlertDSN, Cap: o.AlertCap, Logger: log})
		if err != nil {
			return nil, fmt.Errorf("exfilguard: %w", err)
		}
	}

	sg.bus = bus.New(bus.Options{Buffer: o.QueueSize, OnError: sg.handleError})
	sg.bus.Subscribe(event.KindBlocked, bus.Dedupe(sg.notify, o.QueueSize))
	if sg.store != nil {
		sg.bus.Subscribe("", bus.Dedupe(sg.store.Handle, o.QueueSize))
	}

	sg.Engine = intercept.New(intercept.Config{
		Hosts:             hostmatch.New(o.WatchedHosts...),
		Detector:          detect.New(o.Lexicon...),
		Emitter:           sg,
		Observer:          m,
		RaceDelay:         o.RaceDelay,
		HoldUntilResolved: o.HoldUntilResolved,
	})

	if !o.DisableDefaultWrappedClient {
		sg.DefaultClient = sg.Wrap(o.HTTPClient)
	}
	return sg, nil
}

// Wrap returns a new http client that screens calls to the watched hosts
// before handing them to the original transport. A client already guarded
// by any Service is rewrapped rather than guarded twice, so its calls are
// screened and reported by sg alone.
func (sg *Service) Wrap(client *http.Client) *http.Client {
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	for {
		rt, ok := next.(*roundTripper)
		if !ok {
			break
		}
		next = rt.next
	}
	return &http.Client{
		Transport:     &roundTripper{sg: sg, next: next},
		CheckRedirect: client.CheckRedirect,
		Jar:           client.Jar,
		Timeout:       client.Timeout,
	}
}

var (
	installOnce sync.Once
	installed   atomic.Pointer[Service]
)

// Install replaces http.DefaultClient with a guarded client. Only the first
// call in a process has an effect; it reports whether this call installed.
func Install(sg *Service) bool {
	done := false
	installOnce.Do(func() {
		http.DefaultClient = sg.Wrap(http.DefaultClient)
		installed.Store(sg)
		done = true
	})
	return done
}

// Installed returns the service installed by Install, or nil.
func Installed() *Service {
	return installed.Load()
}

// Emit queues a block event for delivery. It never blocks; when the queue is
// full or the service is closed the event is dropped and reported to OnError.
func (sg *Service) Emit(b *event.Block) {
	env, err := event.Blocked(b)
	if err != nil {
		sg.handleError(fmt.Errorf("exfilguard: encoding block event: %w", err))
		return
	}
	if sg.bus.Publish(env) {
		return
	}
	sg.metrics.dropped.Inc()
	if sg.bus.Closed() {
		sg.handleError(fmt.Errorf("exfilguard: service closed, dropped block of %s", b.URL))
		return
	}
	sg.handleError(fmt.Errorf("exfilguard: alert queue full, dropped block of %s", b.URL))
}

// Publish forwards an envelope received from another context, such as a
// browser guard running elsewhere. Duplicates are tolerated.
func (sg *Service) Publish(env event.Envelope) bool {
	return sg.bus.Publish(env)
}

// Alerts returns up to limit stored block events, newest first.
func (sg *Service) Alerts(ctx context.Context, limit int) ([]*event.Block, error) {
	if sg.store == nil {
		return nil, ErrNoHistory
	}
	return sg.store.List(ctx, limit)
}

// ClearAlerts empties the stored history.
func (sg *Service) ClearAlerts(ctx context.Context) error {
	if sg.store == nil {
		return ErrNoHistory
	}
	return sg.store.Clear(ctx)
}

// Close delivers pending block events and shuts down the service.
func (sg *Service) Close() error {
	var err error
	sg.closeOnce.Do(func() {
		if sg.beacon != nil {
			sg.beacon.close()
		}
		sg.bus.Close()
		if sg.store != nil {
			err = sg.store.Close()
		}
	})
	return err
}

func (sg *Service) notify(_ context.Context, env event.Envelope) error {
	b, err := env.Block()
	if err != nil {
		return err
	}
	title, message := b.Notification()
	sg.log.Warn(title,
		"message", message,
		"url", b.URL,
		"method", b.Method,
		"source", b.Source,
		"evidenceLen", len(b.Evidence),
	)
	sg.log.Debug("block evidence", "id", b.ID, "evidence", strings.TrimSpace(b.Evidence))

	if sg.options.OnBlock != nil {
		return safeCall(func() { sg.options.OnBlock(b) })
	}
	return nil
}

func safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exfilguard: OnBlock panicked: %v", r)
		}
	}()
	fn()
	return nil
}

func (sg *Service) handleError(err error) {
	sg.options.OnError(err)
}
