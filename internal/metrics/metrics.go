// Package metrics exposes the core's own Prometheus gauges and counters,
// registered through promauto against an injected registry.
package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds every collector this core registers.
type Metrics struct {
	ConnectedClients   prometheus.Gauge
	AuthFailuresTotal  prometheus.Counter
	InspectorsOpen     prometheus.Gauge
	TXQueueDepth       *prometheus.GaugeVec // label: client_id
	TXQueueFullTotal   prometheus.Counter
	MulticastDropsTotal prometheus.Counter
	PSDFramesTotal     prometheus.Counter
	AnalyzerRestarts   prometheus.Counter
}

// New registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sdranalyzer_connected_clients",
			Help: "Number of currently connected client sessions.",
		}),
		AuthFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdranalyzer_auth_failures_total",
			Help: "Total number of rejected authentication attempts.",
		}),
		InspectorsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sdranalyzer_inspectors_open",
			Help: "Number of currently open inspectors across all clients.",
		}),
		TXQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdranalyzer_tx_queue_depth",
			Help: "Current depth of each client's outbound TX queue.",
		}, []string{"client_id"}),
		TXQueueFullTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdranalyzer_tx_queue_full_total",
			Help: "Total number of enqueue attempts rejected due to a full TX queue.",
		}),
		MulticastDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdranalyzer_multicast_drops_total",
			Help: "Total number of multicast datagrams dropped during reassembly.",
		}),
		PSDFramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdranalyzer_psd_frames_total",
			Help: "Total number of PSD frames delivered to subscribers.",
		}),
		AnalyzerRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdranalyzer_analyzer_restarts_total",
			Help: "Total number of analyzer lifecycle restarts.",
		}),
	}
}

// Pusher periodically pushes a registry's metrics to a Prometheus pushgateway,
// for deployments behind NAT where the gateway can't scrape an HTTP listener
// directly.
type Pusher struct {
	pusher *push.Pusher

	pushesTotal  prometheus.Counter
	successTotal prometheus.Counter
	failureTotal prometheus.Counter
}

// NewPusher builds a Pusher targeting url with the given job name. Its own
// push-accounting counters are registered against reg alongside the metrics
// being pushed, so a scrape of the same registry also reports pusher health.
func NewPusher(reg *prometheus.Registry, url, jobName string) *Pusher {
	factory := promauto.With(reg)
	return &Pusher{
		pusher: push.New(url, jobName).Gatherer(reg),
		pushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdranalyzer_pushgateway_pushes_total",
			Help: "Total number of push attempts to the pushgateway.",
		}),
		successTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdranalyzer_pushgateway_success_total",
			Help: "Total number of successful pushes to the pushgateway.",
		}),
		failureTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sdranalyzer_pushgateway_failures_total",
			Help: "Total number of failed pushes to the pushgateway.",
		}),
	}
}

// Run pushes on every tick of interval until stop is closed.
func (p *Pusher) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pushesTotal.Inc()
			if err := p.pusher.Push(); err != nil {
				p.failureTotal.Inc()
				log.Printf("metrics: pushgateway push failed: %v", err)
				continue
			}
			p.successTotal.Inc()
		}
	}
}
