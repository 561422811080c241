package signaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	peers           prometheus.Gauge
	claims          *prometheus.CounterVec
	frames          *prometheus.CounterVec
	unavailable     prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		peers: f.NewGauge(prometheus.GaugeOpts{
			Name: "retroboard_signaling_peers",
			Help: "Number of peers connected to this relay",
		}),
		claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retroboard_signaling_claims_total",
			Help: "Identity claims by result",
		}, []string{"result"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retroboard_signaling_frames_total",
			Help: "Frames relayed by type",
		}, []string{"type"}),
		unavailable: f.NewCounter(prometheus.CounterOpts{
			Name: "retroboard_signaling_unavailable_total",
			Help: "Frames answered with UNAVAILABLE",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retroboard_signaling_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retroboard_signaling_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
