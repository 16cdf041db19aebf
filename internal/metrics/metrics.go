package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersFailed    Counter
	HedgesConfirmed Counter
	PartialOpens    Counter
	OpensAborted    Counter
	HedgesClosed    Counter
	PartialCloses   Counter
	Evaluations     Counter
	Opportunities   Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersFailed:    n,
		HedgesConfirmed: n,
		PartialOpens:    n,
		OpensAborted:    n,
		HedgesClosed:    n,
		PartialCloses:   n,
		Evaluations:     n,
		Opportunities:   n,
	}
}
