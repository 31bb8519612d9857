package exfilguard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/supergoodsystems/exfilguard-go/pkg/intercept"
	"github.com/supergoodsystems/exfilguard-go/pkg/payload"
)

// BeaconClient sends small fire-and-forget POST requests. Send only reports
// whether the data was queued; delivery failures go to Options.OnError.
type BeaconClient struct {
	sg      *Service
	client  *http.Client
	guarded intercept.Beacon

	mu     sync.RWMutex
	closed bool
	queue  chan beacon
	wg     sync.WaitGroup
}

type beacon struct {
	url  string
	body payload.Body
}

// Beacon returns the service's beacon sender. Queued beacons are delivered
// before Close returns.
func (sg *Service) Beacon() *BeaconClient {
	sg.beaconOnce.Do(func() {
		bc := &BeaconClient{
			sg:     sg,
			client: sg.options.HTTPClient,
			queue:  make(chan beacon, sg.options.QueueSize),
		}
		bc.guarded = sg.Engine.GuardBeacon(intercept.BeaconFunc(bc.enqueue))
		bc.wg.Add(1)
		go bc.loop()
		sg.beacon = bc
	})
	return sg.beacon
}

// Send queues body for delivery to rawURL. It returns false if the call was
// blocked, the URL is not absolute http(s), or the queue is full or closed.
func (bc *BeaconClient) Send(rawURL string, body payload.Body) bool {
	return bc.guarded.SendBeacon(rawURL, body)
}

func (bc *BeaconClient) enqueue(rawURL string, body payload.Body) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.closed {
		return false
	}
	select {
	case bc.queue <- beacon{url: rawURL, body: body}:
		return true
	default:
		return false
	}
}

func (bc *BeaconClient) loop() {
	defer bc.wg.Done()
	for b := range bc.queue {
		if err := bc.post(b); err != nil {
			bc.sg.handleError(err)
		}
	}
}

func (bc *BeaconClient) post(b beacon) error {
	ctx, cancel := context.WithTimeout(context.Background(), bc.sg.options.BeaconTimeout)
	defer cancel()

	r, contentType, err := payload.Encode(b.body)
	if err != nil {
		return fmt.Errorf("exfilguard: beacon to %s: %w", b.url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, r)
	if err != nil {
		return fmt.Errorf("exfilguard: beacon to %s: %w", b.url, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := bc.client.Do(req)
	if err != nil {
		return fmt.Errorf("exfilguard: beacon to %s: %w", b.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (bc *BeaconClient) close() {
	bc.mu.Lock()
	if !bc.closed {
		bc.closed = true
		close(bc.queue)
	}
	bc.mu.Unlock()
	bc.wg.Wait()
}
