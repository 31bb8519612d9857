package exfilguard

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/supergoodsystems/exfilguard-go/internal/alertstore"
	"github.com/supergoodsystems/exfilguard-go/pkg/detect"
	"github.com/supergoodsystems/exfilguard-go/pkg/event"
	"github.com/supergoodsystems/exfilguard-go/pkg/hostmatch"
	"github.com/supergoodsystems/exfilguard-go/pkg/intercept"
)

// Options configure the exfilguard service
type Options struct {
	// WatchedHosts are the destinations whose outbound calls are screened.
	// Hosts match exactly and case-insensitively.
	// (defaults to the comma separated EXFILGUARD_HOSTS environment variable,
	// or telegram.org and api.telegram.org if not set)
	WatchedHosts []string

	// Lexicon is the list of sensitive-term stems.
	// (defaults to the comma separated EXFILGUARD_LEXICON environment variable,
	// or detect.DefaultLexicon if not set)
	Lexicon []string

	// RaceDelay bounds how long an Exchange with a binary body waits for the
	// body to be inspected before it is sent anyway.
	// (defaults to EXFILGUARD_RACE_DELAY, or 50 * time.Millisecond)
	RaceDelay time.Duration

	// HoldUntilResolved makes an Exchange wait for inspection to finish
	// instead of racing RaceDelay. Adds latency to every watched call.
	// (defaults to EXFILGUARD_HOLD_UNTIL_RESOLVED, or false)
	HoldUntilResolved bool

	// AlertDSN is the SQLite database where block events are kept.
	// (defaults to EXFILGUARD_ALERT_DSN; no history is kept if empty)
	AlertDSN string

	// AlertCap is the number of block events kept, newest first.
	// (defaults to EXFILGUARD_ALERT_CAP, or 200)
	AlertCap int

	// QueueSize bounds the number of block events waiting to be delivered
	// to OnBlock and the alert history.
	// (defaults to EXFILGUARD_QUEUE_SIZE, or 256)
	QueueSize int

	// OnBlock is called once per blocked call, off the caller's goroutine.
	OnBlock func(*event.Block)

	// OnError allows you to handle background errors such as a full alert
	// queue or a failed beacon.
	// (by default errors are logged)
	OnError func(error)

	// The HTTPClient wrapped into DefaultClient and used to deliver beacons
	// and exchanges.
	// (defaults to http.DefaultClient)
	HTTPClient *http.Client

	// DisableDefaultWrappedClient skips building DefaultClient.
	DisableDefaultWrappedClient bool

	// BeaconTimeout bounds the delivery of a single beacon. (defaults to 10 * time.Second)
	BeaconTimeout time.Duration

	// LogLevel is one of debug, info, warn, error or disabled.
	// (defaults to EXFILGUARD_LOG_LEVEL, or info)
	LogLevel string

	// LogFile additionally writes logs to a rotating file.
	// (defaults to EXFILGUARD_LOG_FILE)
	LogFile string

	// Registerer receives the service metrics.
	// (defaults to a private prometheus.Registry)
	Registerer prometheus.Registerer
}

func (o *Options) parse() (*Options, error) {
	if o == nil {
		o = &Options{}
	} else {
		copy := *o
		o = &copy
	}

	if len(o.WatchedHosts) == 0 {
		o.WatchedHosts = splitList(os.Getenv("EXFILGUARD_HOSTS"))
	}
	if len(o.WatchedHosts) == 0 {
		o.WatchedHosts = append([]string(nil), hostmatch.DefaultHosts...)
	}
	for _, h := range o.WatchedHosts {
		if strings.ContainsAny(h, "/:?#@ ") {
			return nil, fmt.Errorf("exfilguard: invalid watched host %q, expected a bare host name", h)
		}
	}

	if len(o.Lexicon) == 0 {
		o.Lexicon = splitList(os.Getenv("EXFILGUARD_LEXICON"))
	}
	if len(o.Lexicon) == 0 {
		o.Lexicon = append([]string(nil), detect.DefaultLexicon...)
	}

	if o.RaceDelay == 0 {
		if v := os.Getenv("EXFILGUARD_RACE_DELAY"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("exfilguard: invalid EXFILGUARD_RACE_DELAY: %w", err)
			}
			o.RaceDelay = d
		}
	}
	if o.RaceDelay == 0 {
		o.RaceDelay = intercept.DefaultRaceDelay
	}
	if o.RaceDelay < time.Millisecond {
		return nil, fmt.Errorf("exfilguard: RaceDelay too small, did you forget to multiply by time.Millisecond?")
	}

	if !o.HoldUntilResolved {
		if v := os.Getenv("EXFILGUARD_HOLD_UNTIL_RESOLVED"); v != "" {
			hold, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("exfilguard: invalid EXFILGUARD_HOLD_UNTIL_RESOLVED: %w", err)
			}
			o.HoldUntilResolved = hold
		}
	}

	if o.AlertDSN == "" {
		o.AlertDSN = os.Getenv("EXFILGUARD_ALERT_DSN")
	}
	if o.AlertCap == 0 {
		n, err := intEnv("EXFILGUARD_ALERT_CAP")
		if err != nil {
			return nil, err
		}
		o.AlertCap = n
	}
	if o.AlertCap == 0 {
		o.AlertCap = alertstore.DefaultCap
	}
	if o.AlertCap < 0 {
		return nil, fmt.Errorf("exfilguard: AlertCap must be positive")
	}

	if o.QueueSize == 0 {
		n, err := intEnv("EXFILGUARD_QUEUE_SIZE")
		if err != nil {
			return nil, err
		}
		o.QueueSize = n
	}
	if o.QueueSize == 0 {
		o.QueueSize = 256
	}
	if o.QueueSize < 0 {
		return nil, fmt.Errorf("exfilguard: QueueSize must be positive")
	}

	if o.BeaconTimeout == 0 {
		o.BeaconTimeout = 10 * time.Second
	}

	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}

	if o.LogLevel == "" {
		o.LogLevel = os.Getenv("EXFILGUARD_LOG_LEVEL")
	}
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.LogFile == "" {
		o.LogFile = os.Getenv("EXFILGUARD_LOG_FILE")
	}

	if o.Registerer == nil {
		o.Registerer = prometheus.NewRegistry()
	}

	return o, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("exfilguard: invalid %s: %w", key, err)
	}
	return n, nil
}
