package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "funding_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	ordersPlaced := newCounter("orders_placed_total", "Total number of orders placed across both venues.")
	ordersFailed := newCounter("orders_failed_total", "Total number of order placement failures.")
	hedgesConfirmed := newCounter("hedges_confirmed_total", "Total number of fully confirmed hedge opens.")
	partialOpens := newCounter("partial_opens_total", "Total number of opens that left one venue unhedged.")
	opensAborted := newCounter("opens_aborted_total", "Total number of opens aborted with zero exposure.")
	hedgesClosed := newCounter("hedges_closed_total", "Total number of hedges flattened on both venues.")
	partialCloses := newCounter("partial_closes_total", "Total number of closes that left exposure behind.")
	evaluations := newCounter("funding_evaluations_total", "Total number of funding rate evaluations.")
	opportunities := newCounter("funding_opportunities_total", "Total number of evaluations that cleared the threshold.")

	m := &Metrics{
		OrdersPlaced:    promCounter{ordersPlaced},
		OrdersFailed:    promCounter{ordersFailed},
		HedgesConfirmed: promCounter{hedgesConfirmed},
		PartialOpens:    promCounter{partialOpens},
		OpensAborted:    promCounter{opensAborted},
		HedgesClosed:    promCounter{hedgesClosed},
		PartialCloses:   promCounter{partialCloses},
		Evaluations:     promCounter{evaluations},
		Opportunities:   promCounter{opportunities},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
