package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "packetgate"

// Lookup result label values.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Recorder holds the client registry and routing collectors.
type Recorder struct {
	registeredClients prometheus.Gauge
	adds              prometheus.Counter
	removes           prometheus.Counter
	lookups           *prometheus.CounterVec
	packets           *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		registeredClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "clientlist",
			Name:      "registered_clients",
			Help:      "Number of client sessions currently in the client list.",
		}),
		adds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clientlist",
			Name:      "adds_total",
			Help:      "Client sessions added to the client list.",
		}),
		removes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clientlist",
			Name:      "removes_total",
			Help:      "Client sessions removed from the client list.",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clientlist",
			Name:      "validated_lookups_total",
			Help:      "Validated-client lookups by result.",
		}, []string{"result"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "packets_total",
			Help:      "Packets received from clients by q construct.",
		}, []string{"qconstruct"}),
	}

	for _, c := range []prometheus.Collector{r.registeredClients, r.adds, r.removes, r.lookups, r.packets} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ClientAdded records an insertion; size is the list size afterwards.
func (r *Recorder) ClientAdded(size int) {
	if r == nil {
		return
	}
	r.adds.Inc()
	r.registeredClients.Set(float64(size))
}

// ClientRemoved records a removal; size is the list size afterwards.
func (r *Recorder) ClientRemoved(size int) {
	if r == nil {
		return
	}
	r.removes.Inc()
	r.registeredClients.Set(float64(size))
}

// Lookup records the outcome of a validated-client lookup.
func (r *Recorder) Lookup(hit bool) {
	if r == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	r.lookups.WithLabelValues(result).Inc()
}

// Packet records a packet routed with the given q construct.
func (r *Recorder) Packet(qconstruct string) {
	if r == nil {
		return
	}
	r.packets.WithLabelValues(qconstruct).Inc()
}
