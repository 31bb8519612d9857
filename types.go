package exfilguard

import (
	"net/http"
	"sync"

	"github.com/supergoodsystems/exfilguard-go/internal/alertstore"
	"github.com/supergoodsystems/exfilguard-go/internal/bus"
	"github.com/supergoodsystems/exfilguard-go/internal/logger"
	"github.com/supergoodsystems/exfilguard-go/pkg/intercept"
)

// Service screens outbound calls to the watched hosts and records the ones
// it blocks.
//
// Block events are delivered in the background, so you must call
// [Service.Close] before your program exits to flush them to the history.
type Service struct {
	// DefaultClient is a wrapped version of Options.HTTPClient.
	// If you'd like every request screened, set
	// http.DefaultClient = sg.DefaultClient, or call Install.
	DefaultClient *http.Client

	// Engine screens calls. It can guard custom surfaces directly.
	Engine *intercept.Engine

	options *Options
	log     logger.Logger
	metrics *metrics
	bus     *bus.Bus
	store   *alertstore.Store

	beaconOnce sync.Once
	beacon     *BeaconClient
	closeOnce  sync.Once
}
