package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
)

type Metrics struct {
	OrdersCreated   prometheus.Counter
	OrdersCancelled prometheus.Counter
	Fills           prometheus.Counter
	FilledQuantity  prometheus.Counter
	FeesCollected   prometheus.Counter
	FeesWithdrawn   prometheus.Counter
	TxProcessed     *prometheus.CounterVec
	TxRejected      *prometheus.CounterVec
	BlockDuration   prometheus.Histogram
	BlockHeight     prometheus.Gauge
	MempoolSize     prometheus.Gauge
	ActiveOrders    prometheus.Gauge
	Paused          prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditswap_orders_created_total",
			Help: "Sell orders created.",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditswap_orders_cancelled_total",
			Help: "Sell orders cancelled by their seller.",
		}),
		Fills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditswap_fills_total",
			Help: "Settled fills.",
		}),
		FilledQuantity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditswap_filled_credits_total",
			Help: "Credits delivered to buyers.",
		}),
		FeesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditswap_fees_collected_total",
			Help: "Protocol fees paid to the community fund, in native units.",
		}),
		FeesWithdrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditswap_fees_withdrawn_total",
			Help: "Fees withdrawn from the treasury, in native units.",
		}),
		TxProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditswap_tx_processed_total",
			Help: "Transactions executed in blocks, by type.",
		}, []string{"type"}),
		TxRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditswap_tx_rejected_total",
			Help: "Transactions that failed, by type and error code.",
		}, []string{"type", "code"}),
		BlockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "creditswap_block_duration_seconds",
			Help:    "Time spent executing a block.",
			Buckets: prometheus.DefBuckets,
		}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "creditswap_block_height",
			Help: "Last finalized block height.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "creditswap_mempool_size",
			Help: "Pending transactions.",
		}),
		ActiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "creditswap_active_orders",
			Help: "Orders currently open for fills.",
		}),
		Paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "creditswap_paused",
			Help: "1 while the exchange is paused.",
		}),
	}

	registry.MustRegister(
		m.OrdersCreated, m.OrdersCancelled, m.Fills, m.FilledQuantity,
		m.FeesCollected, m.FeesWithdrawn, m.TxProcessed, m.TxRejected,
		m.BlockDuration, m.BlockHeight, m.MempoolSize, m.ActiveOrders, m.Paused,
	)
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts one exchange event
func (m *Metrics) ObserveEvent(ev exchange.Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case exchange.EventOrderCreated:
		m.OrdersCreated.Inc()
		m.ActiveOrders.Inc()
	case exchange.EventOrderCancelled:
		m.OrdersCancelled.Inc()
		m.ActiveOrders.Dec()
	case exchange.EventOrderFilled:
		m.Fills.Inc()
		if ev.Fill != nil {
			m.FilledQuantity.Add(float64(ev.Fill.FilledAmount))
			m.FeesCollected.Add(float64(ev.Fill.Fee))
		}
		if ev.Order != nil && !ev.Order.Active {
			m.ActiveOrders.Dec()
		}
	case exchange.EventFeesWithdrawn:
		m.FeesWithdrawn.Add(float64(ev.Amount))
	case exchange.EventPaused:
		m.Paused.Set(1)
	case exchange.EventUnpaused:
		m.Paused.Set(0)
	}
}

func (m *Metrics) ObserveTx(txType, code string, ok bool) {
	if m == nil {
		return
	}
	m.TxProcessed.WithLabelValues(txType).Inc()
	if !ok {
		m.TxRejected.WithLabelValues(txType, code).Inc()
	}
}

func (m *Metrics) ObserveBlock(height int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.BlockHeight.Set(float64(height))
	m.BlockDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetMempoolSize(n int) {
	if m == nil {
		return
	}
	m.MempoolSize.Set(float64(n))
}

// SetActiveOrders resets the gauge, used once after state is restored
func (m *Metrics) SetActiveOrders(n int) {
	if m == nil {
		return
	}
	m.ActiveOrders.Set(float64(n))
}

func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.Paused.Set(1)
	} else {
		m.Paused.Set(0)
	}
}
