package plugin

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soyeahso/netplug/internal/hooks"
)

// hookMetrics counts dispatches per hook type. Counters are resolved once
// so the dispatch path does no label lookups.
type hookMetrics struct {
	dispatches *prometheus.CounterVec
	calls      *prometheus.CounterVec

	dispatched [hooks.NumTypes]prometheus.Counter
	called     [hooks.NumTypes]prometheus.Counter
}

func newHookMetrics() *hookMetrics {
	hm := &hookMetrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netplug",
			Name:      "hook_dispatch_total",
			Help:      "Hook dispatches that reached at least one subscriber.",
		}, []string{"hook"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netplug",
			Name:      "hook_calls_total",
			Help:      "Individual plugin hook callbacks invoked.",
		}, []string{"hook"}),
	}
	hm.bind()
	return hm
}

func (hm *hookMetrics) bind() {
	for _, t := range hooks.AllTypes {
		hm.dispatched[t] = hm.dispatches.WithLabelValues(t.String())
		hm.called[t] = hm.calls.WithLabelValues(t.String())
	}
}

// register attaches the collectors to reg, reusing collectors a previous
// manager already registered there.
func (hm *hookMetrics) register(reg prometheus.Registerer) error {
	var err error
	if hm.dispatches, err = registerVec(reg, hm.dispatches); err != nil {
		return err
	}
	if hm.calls, err = registerVec(reg, hm.calls); err != nil {
		return err
	}
	hm.bind()
	return nil
}

func registerVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (hm *hookMetrics) dispatch(t hooks.Type) { hm.dispatched[t].Inc() }

func (hm *hookMetrics) call(t hooks.Type) { hm.called[t].Inc() }
