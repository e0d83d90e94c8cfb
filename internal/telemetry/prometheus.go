package telemetry

import "github.com/prometheus/client_golang/prometheus"

const livelookNamespace string = "livelook"

var (
	promSessionTotal        prometheus.Gauge
	promPeersTotal          prometheus.Gauge
	ServiceOperationCounter *prometheus.CounterVec
	SignalCounter           *prometheus.CounterVec
	StateUpdateCounter      *prometheus.CounterVec
)

func init() {
	promSessionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "session",
		Name:      "total",
	})

	promPeersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "rtc",
		Name:      "peers",
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "node",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	SignalCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "signaling",
			Name:      "signals",
		},
		[]string{"direction", "type"},
	)

	StateUpdateCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "statesync",
			Name:      "updates",
		},
		[]string{"outcome"},
	)

	prometheus.MustRegister(promSessionTotal)
	prometheus.MustRegister(promPeersTotal)
	prometheus.MustRegister(ServiceOperationCounter)
	prometheus.MustRegister(SignalCounter)
	prometheus.MustRegister(StateUpdateCounter)
}

func SessionStarted() {
	promSessionTotal.Inc()
}

func SessionStopped() {
	promSessionTotal.Dec()
}

func PeerConnected() {
	promPeersTotal.Inc()
}

func PeerDisconnected() {
	promPeersTotal.Dec()
}
