package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bulkload"

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Collector は Prometheus 向けのメトリクスを保持する
// nil の Collector に対する記録は何もしない
type Collector struct {
	attempts        *prometheus.CounterVec
	classifications *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	writeLatency    prometheus.Histogram
	backoff         prometheus.Histogram
	runDuration     prometheus.Gauge
	inFlight        prometheus.Gauge
}

// NewCollector はコレクタを作成して reg に登録する
// reg が nil の場合は登録しない
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_attempts_total",
			Help:      "Write attempts against the record store by result.",
		}, []string{"result"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_classifications_total",
			Help:      "Failed writes by throttle classification.",
		}, []string{"class"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Write tasks by terminal outcome.",
		}, []string{"outcome"}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_latency_seconds",
			Help:      "Latency of individual write attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		backoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Backoff waits requested after throttled writes.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last load test.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Write tasks dispatched but not yet terminal.",
		}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{
			c.attempts, c.classifications, c.outcomes,
			c.writeLatency, c.backoff, c.runDuration, c.inFlight,
		} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

// MustNewCollector は登録に失敗した場合 panic する
func MustNewCollector(reg prometheus.Registerer) *Collector {
	c, err := NewCollector(reg)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Collector) observeAttempt(result string, latency time.Duration) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(result).Inc()
	c.writeLatency.Observe(latency.Seconds())
}

func (c *Collector) observeClassification(class string) {
	if c == nil {
		return
	}
	c.classifications.WithLabelValues(class).Inc()
}

func (c *Collector) observeOutcome(outcome string) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) observeBackoff(wait time.Duration) {
	if c == nil {
		return
	}
	c.backoff.Observe(wait.Seconds())
}

func (c *Collector) observeRun(d time.Duration) {
	if c == nil {
		return
	}
	c.runDuration.Set(d.Seconds())
}

func (c *Collector) setInFlight(n int) {
	if c == nil {
		return
	}
	c.inFlight.Set(float64(n))
}
