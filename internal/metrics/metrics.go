package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"topicsmith/internal/domain"
)

// Collector turns delivery outcomes and bootstrap results into Prometheus
// series. It is the always-on observer of the transport's outcome stream.
type Collector struct {
	deliveries *prometheus.CounterVec
	bootstraps *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topicsmith_deliveries_total",
			Help: "Delivery outcomes per destination.",
		}, []string{"destination", "result"}),
		bootstraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topicsmith_bootstrap_requests_total",
			Help: "Terminal bootstrap results.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.deliveries, c.bootstraps)
	return c
}

// Watch consumes the outcome stream until the context is cancelled.
func (c *Collector) Watch(ctx context.Context, outcomes <-chan domain.DeliveryOutcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-outcomes:
			if !ok {
				return
			}
			result := "success"
			if out.Failed() {
				result = "error"
			}
			c.deliveries.WithLabelValues(out.Destination, result).Inc()
		}
	}
}

// ObserveBootstrap records one terminal bootstrap result.
func (c *Collector) ObserveBootstrap(succeeded bool) {
	if succeeded {
		c.bootstraps.WithLabelValues("success").Inc()
		return
	}
	c.bootstraps.WithLabelValues("failure").Inc()
}
