// Package metrics provides small prometheus-backed helpers shared by
// every component that needs a running average or a registered
// counter/gauge family, following the shape of a running-average
// tracker used by the voting/poll layer this project is modeled on.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Averager tracks a running average of observed values (e.g. time to
// commit, in nanoseconds) under a mutex.
type Averager interface {
	Observe(value float64)
	Read() float64
}

type averager struct {
	mu    sync.RWMutex
	sum   float64
	count int64
	gauge prometheus.Gauge
}

// NewAverager registers a gauge under the given name/help and returns
// an Averager that keeps the gauge in sync with the running mean.
func NewAverager(name, help string, reg prometheus.Registerer) (Averager, error) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	})
	if reg != nil {
		if err := reg.Register(g); err != nil {
			return nil, fmt.Errorf("registering averager %s: %w", name, err)
		}
	}
	return &averager{gauge: g}, nil
}

func (a *averager) Observe(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += value
	a.count++
	if a.gauge != nil {
		a.gauge.Set(a.sum / float64(a.count))
	}
}

func (a *averager) Read() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

// MustCounter creates one prometheus counter and registers it with reg
// (when reg is non-nil), returning an error the caller can wrap
// with component context (matching the teacher's
// "errFailedXMetric" + fmt.Errorf("%w: %w", ...) pattern).
func MustCounter(name, help string, reg prometheus.Registerer) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if reg != nil {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering counter %s: %w", name, err)
		}
	}
	return c, nil
}

func MustGauge(name, help string, reg prometheus.Registerer) (prometheus.Gauge, error) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	if reg != nil {
		if err := reg.Register(g); err != nil {
			return nil, fmt.Errorf("registering gauge %s: %w", name, err)
		}
	}
	return g, nil
}
