package metrics

import (
	"net/http"

	"PPresence/service/presence"
	"PPresence/tools/security"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "presence"

// Observer counts presence lifecycle events in Prometheus.
type Observer struct {
	handshakes *prometheus.CounterVec // result, reason
	removals   *prometheus.CounterVec // cause
}

var _ presence.Observer = (*Observer)(nil)

// New registers the presence collectors on reg. online reports the current
// registry size and may be nil.
func New(reg prometheus.Registerer, online func() int) (*Observer, error) {
	o := &Observer{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshakes by result and rejection reason.",
		}, []string{"result", "reason"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Sessions removed from the registry by cause.",
		}, []string{"cause"}),
	}
	cs := []prometheus.Collector{o.handshakes, o.removals}
	if online != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with a registered connection.",
		}, func() float64 { return float64(online()) }))
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register presence collector")
		}
	}
	return o, nil
}

func (o *Observer) Established(string, string) {
	o.handshakes.WithLabelValues("established", "").Inc()
}

func (o *Observer) Rejected(_ string, cause error) {
	o.handshakes.WithLabelValues("rejected", rejectReason(cause)).Inc()
}

func (o *Observer) Evicted(string, string)      { o.removals.WithLabelValues("evicted").Inc() }
func (o *Observer) Disconnected(string, string) { o.removals.WithLabelValues("disconnected").Inc() }
func (o *Observer) Reaped(string, string)       { o.removals.WithLabelValues("reaped").Inc() }
func (o *Observer) Dropped(string, string)      { o.removals.WithLabelValues("dropped").Inc() }

func rejectReason(err error) string {
	if errors.Is(err, presence.ErrAuthRequired) {
		return "missing_credential"
	}
	if r := security.ReasonOf(err); r != 0 {
		return r.String()
	}
	return "other"
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
