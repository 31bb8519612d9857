// Package event holds the block events exchanged between the interception
// engine and the alert consumers, and the envelope used to carry them.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// overridden in tests
var Clock = time.Now

// NotificationTitle is the title of the user-facing block notification.
const NotificationTitle = "Blocked Telegram exfiltration"

const notificationURLLimit = 60

// Block records one outbound call that was stopped.
type Block struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	URL      string    `json:"url"`
	Method   string    `json:"method"`
	Evidence string    `json:"evidence"`

	// Source names the surface the call came through (fetch, beacon, exchange, page).
	Source string `json:"source,omitempty"`
	// TabID and TabURL identify the browser page, when known.
	TabID  string `json:"tabId,omitempty"`
	TabURL string `json:"tabUrl,omitempty"`
}

// NewBlock stamps a new event with a fresh ID and the current UTC time.
func NewBlock(url, method, evidence string) *Block {
	b := &Block{
		ID:       uuid.NewString(),
		Time:     Clock().UTC(),
		URL:      url,
		Method:   method,
		Evidence: evidence,
	}
	b.Normalize()
	return b
}

// Normalize fills empty fields with their placeholders.
func (b *Block) Normalize() {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Time.IsZero() {
		b.Time = Clock().UTC()
	}
	if b.URL == "" {
		b.URL = "unknown"
	}
	if b.Method == "" {
		b.Method = "POST"
	}
	if b.Evidence == "" {
		b.Evidence = "(no evidence)"
	}
}

// Notification returns the title and message shown to the user.
func (b *Block) Notification() (title, message string) {
	u := []rune(b.URL)
	if len(u) > notificationURLLimit {
		u = u[:notificationURLLimit]
	}
	return NotificationTitle, fmt.Sprintf("%s → %s...", b.Method, string(u))
}

// Kind discriminates envelope payloads.
type Kind string

const (
	KindBlocked     Kind = "blocked_exfil"
	KindClearAlerts Kind = "clear_alerts"
)

// Envelope is the transport-neutral message passed between contexts.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Blocked wraps a block event.
func Blocked(b *Block) (Envelope, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: KindBlocked, Payload: raw}, nil
}

// ClearAlerts is the request to drop the alert history.
func ClearAlerts() Envelope {
	return Envelope{Kind: KindClearAlerts}
}

// Block decodes the payload of a KindBlocked envelope.
func (e Envelope) Block() (*Block, error) {
	if e.Kind != KindBlocked {
		return nil, fmt.Errorf("event: envelope kind %q is not %q", e.Kind, KindBlocked)
	}
	b := &Block{}
	if err := json.Unmarshal(e.Payload, b); err != nil {
		return nil, fmt.Errorf("event: decoding block payload: %w", err)
	}
	b.Normalize()
	return b, nil
}
