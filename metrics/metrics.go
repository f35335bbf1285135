package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	rpcNamespace = "reqrep_rpc"

	functionLabelName  = "function"
	codeLabelName      = "code"
	sideLabelName      = "side"
	directionLabelName = "direction"

	DirectionIn  = "in"
	DirectionOut = "out"

	// UnboundFunction replaces the function label for calls to unknown names,
	// keeping label cardinality bounded by the bound set.
	UnboundFunction = "<unbound>"
)

var (
	// buckets in milliseconds: [0.05 0.1 0.2 ... 1638.4]
	buckets = prometheus.ExponentialBuckets(0.05, 2, 16)

	ClientCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: rpcNamespace,
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "calls issued by the client, by reply code",
		}, []string{functionLabelName, codeLabelName})

	ClientCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: rpcNamespace,
			Subsystem: "client",
			Name:      "call_latency_ms",
			Help:      "round trip latency of client calls",
			Buckets:   buckets,
		}, []string{functionLabelName})

	ServerDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: rpcNamespace,
			Subsystem: "server",
			Name:      "dispatches_total",
			Help:      "requests dispatched by the server, by reply code",
		}, []string{functionLabelName, codeLabelName})

	ServerDispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: rpcNamespace,
			Subsystem: "server",
			Name:      "dispatch_latency_ms",
			Help:      "handler execution latency",
			Buckets:   buckets,
		}, []string{functionLabelName})

	TransportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: rpcNamespace,
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "framed bytes moved by the TCP transport",
		}, []string{sideLabelName, directionLabelName})

	registerOnce     sync.Once
	metricRegisterer prometheus.Registerer
)

// GetRegisterer returns the registerer passed to Register, or prometheus.DefaultRegisterer.
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register registers all collectors with r. Only the first call has an effect.
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		metricRegisterer = r
		r.MustRegister(ClientCalls)
		r.MustRegister(ClientCallLatency)
		r.MustRegister(ServerDispatches)
		r.MustRegister(ServerDispatchLatency)
		r.MustRegister(TransportBytes)
	})
}
