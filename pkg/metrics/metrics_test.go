package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
)

func TestObserveEvent(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveEvent(exchange.Event{Kind: exchange.EventOrderCreated})
	m.ObserveEvent(exchange.Event{Kind: exchange.EventOrderCreated})
	m.ObserveEvent(exchange.Event{
		Kind:  exchange.EventOrderFilled,
		Order: &exchange.Order{Active: false},
		Fill:  &exchange.FillRecord{FilledAmount: 50, Fee: 500},
	})
	m.ObserveEvent(exchange.Event{Kind: exchange.EventPaused})

	if got := testutil.ToFloat64(m.OrdersCreated); got != 2 {
		t.Errorf("orders created = %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveOrders); got != 1 {
		t.Errorf("active orders = %v", got)
	}
	if got := testutil.ToFloat64(m.FilledQuantity); got != 50 {
		t.Errorf("filled quantity = %v", got)
	}
	if got := testutil.ToFloat64(m.FeesCollected); got != 500 {
		t.Errorf("fees = %v", got)
	}
	if got := testutil.ToFloat64(m.Paused); got != 1 {
		t.Errorf("paused = %v", got)
	}
}

func TestObserveTx(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveTx("fill_order", "OK", true)
	m.ObserveTx("fill_order", "INSUFFICIENT_FUNDS", false)

	if got := testutil.ToFloat64(m.TxProcessed.WithLabelValues("fill_order")); got != 2 {
		t.Errorf("processed = %v", got)
	}
	if got := testutil.ToFloat64(m.TxRejected.WithLabelValues("fill_order", "INSUFFICIENT_FUNDS")); got != 1 {
		t.Errorf("rejected = %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(exchange.Event{Kind: exchange.EventOrderCreated})
	m.ObserveTx("pause", "OK", true)
	m.ObserveBlock(1, time.Millisecond)
	m.SetMempoolSize(3)
	m.SetActiveOrders(1)
	m.SetPaused(true)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveBlock(7, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "creditswap_block_height 7") {
		t.Errorf("metrics output missing block height:\n%s", rec.Body.String())
	}
}
