package exfilguard

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/supergoodsystems/exfilguard-go/pkg/intercept"
)

type metrics struct {
	screened *prometheus.CounterVec
	blocked  *prometheus.CounterVec
	dropped  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		screened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Name:      "calls_screened_total",
			Help:      "Outbound calls screened, by surface and final state.",
		}, []string{"surface", "state"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Name:      "calls_blocked_total",
			Help:      "Outbound calls blocked, by surface.",
		}, []string{"surface"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Name:      "alerts_dropped_total",
			Help:      "Block events dropped because the delivery queue was full.",
		}),
	}

	var err error
	if m.screened, err = register(reg, m.screened); err != nil {
		return nil, err
	}
	if m.blocked, err = register(reg, m.blocked); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, m.dropped); err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses an identical collector that is already registered, so
// several services can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) Observe(s intercept.Surface, st intercept.State) {
	m.screened.WithLabelValues(string(s), st.String()).Inc()
	if st == intercept.StateBlocked {
		m.blocked.WithLabelValues(string(s)).Inc()
	}
}
