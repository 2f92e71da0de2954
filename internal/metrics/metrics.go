// Package metrics holds process-wide, lock-free counters for the order
// consumer and settlement pipeline, in the style of
// TanishqAgarwal-OrderMatchingEngine/internal/metrics: atomic counters plus
// a latency histogram for accurate percentiles without a mutex on the hot
// path.
package metrics

import (
	"encoding/json"
	"math"
	"sync/atomic"
	"time"
)

// MaxLatencyMicros bounds the settlement-latency histogram: up to 100ms
// tracked at 1us resolution: everything slower collapses into the last bucket.
const MaxLatencyMicros = 100000

// Counters holds thread-safe counters for the order consumer.
type Counters struct {
	StartTime time.Time

	OrdersReceived    atomic.Int64
	OrdersMatched     atomic.Int64
	OrdersCancelled   atomic.Int64
	TradesSettled     atomic.Int64
	SettlementFailed  atomic.Int64
	DispatchFailed    atomic.Int64
	TotalLatencyMicro atomic.Int64

	latencyHistogram [MaxLatencyMicros + 1]atomic.Int64
}

// New creates a zeroed Counters with StartTime set to now.
func New() *Counters {
	return &Counters{StartTime: time.Now()}
}

func (c *Counters) IncOrdersReceived()      { c.OrdersReceived.Add(1) }
func (c *Counters) IncOrdersMatched(n int64) { c.OrdersMatched.Add(n) }
func (c *Counters) IncOrdersCancelled()      { c.OrdersCancelled.Add(1) }
func (c *Counters) IncTradesSettled(n int64) { c.TradesSettled.Add(n) }
func (c *Counters) IncSettlementFailed()     { c.SettlementFailed.Add(1) }
func (c *Counters) IncDispatchFailed()       { c.DispatchFailed.Add(1) }

// ObserveSettlementLatency records one full order-consumer pass (load →
// match → settle → dispatch) in microseconds.
func (c *Counters) ObserveSettlementLatency(micros int64) {
	c.TotalLatencyMicro.Add(micros)
	idx := micros
	if idx > MaxLatencyMicros {
		idx = MaxLatencyMicros
	}
	if idx < 0 {
		idx = 0
	}
	c.latencyHistogram[idx].Add(1)
}

func (c *Counters) percentile(p float64, total int64) float64 {
	if total == 0 {
		return 0
	}
	target := int64(math.Ceil(float64(total) * p))
	var running int64
	for i := 0; i <= MaxLatencyMicros; i++ {
		running += c.latencyHistogram[i].Load()
		if running >= target {
			return float64(i) / 1000.0
		}
	}
	return float64(MaxLatencyMicros) / 1000.0
}

// MarshalJSON renders a snapshot of the counters for a metrics/debug endpoint.
func (c *Counters) MarshalJSON() ([]byte, error) {
	received := c.OrdersReceived.Load()

	avgLatency := float64(0)
	if received > 0 {
		avgLatency = float64(c.TotalLatencyMicro.Load()) / float64(received) / 1000.0
	}

	uptime := time.Since(c.StartTime).Seconds()
	throughput := float64(0)
	if uptime > 0 {
		throughput = float64(received) / uptime
	}

	return json.Marshal(map[string]any{
		"orders_received":           received,
		"orders_matched":            c.OrdersMatched.Load(),
		"orders_cancelled":          c.OrdersCancelled.Load(),
		"trades_settled":            c.TradesSettled.Load(),
		"settlement_failed":         c.SettlementFailed.Load(),
		"dispatch_failed":           c.DispatchFailed.Load(),
		"latency_avg_ms":            avgLatency,
		"latency_p50_ms":            c.percentile(0.50, received),
		"latency_p99_ms":            c.percentile(0.99, received),
		"latency_p999_ms":           c.percentile(0.999, received),
		"throughput_orders_per_sec": throughput,
	})
}
