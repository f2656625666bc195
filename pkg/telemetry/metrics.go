package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricRequestsTotal        = "margincalc_http_requests_total"
	MetricRequestErrorsTotal   = "margincalc_http_errors_total"
	MetricRequestLatency       = "margincalc_http_request_duration_seconds"
	MetricRetriesTotal         = "margincalc_http_retries_total"
	MetricTokenRefreshTotal    = "margincalc_token_refresh_total"
	MetricCalcSubmittedTotal   = "margincalc_calculations_submitted_total"
	MetricCalcCompletedTotal   = "margincalc_calculations_completed_total"
	MetricCalcFailedTotal      = "margincalc_calculations_failed_total"
	MetricCalcCancelledTotal   = "margincalc_calculations_cancelled_total"
	MetricPollsTotal           = "margincalc_polls_total"
	MetricCalculationsInflight = "margincalc_calculations_inflight"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	RequestsTotal        metric.Int64Counter
	RequestErrorsTotal   metric.Int64Counter
	RequestLatency       metric.Float64Histogram
	RetriesTotal         metric.Int64Counter
	TokenRefreshTotal    metric.Int64Counter
	CalcSubmittedTotal   metric.Int64Counter
	CalcCompletedTotal   metric.Int64Counter
	CalcFailedTotal      metric.Int64Counter
	CalcCancelledTotal   metric.Int64Counter
	PollsTotal           metric.Int64Counter
	CalculationsInflight metric.Int64ObservableGauge

	// State for the observable gauge, keyed by venue
	mu          sync.RWMutex
	inflightMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			inflightMap: make(map[string]int64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.RequestsTotal, err = meter.Int64Counter(MetricRequestsTotal, metric.WithDescription("Total HTTP requests sent through the pipeline"))
	if err != nil {
		return err
	}

	m.RequestErrorsTotal, err = meter.Int64Counter(MetricRequestErrorsTotal, metric.WithDescription("Total failed HTTP requests"))
	if err != nil {
		return err
	}

	m.RequestLatency, err = meter.Float64Histogram(MetricRequestLatency, metric.WithDescription("HTTP request latency"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.RetriesTotal, err = meter.Int64Counter(MetricRetriesTotal, metric.WithDescription("Total transport-level retry attempts"))
	if err != nil {
		return err
	}

	m.TokenRefreshTotal, err = meter.Int64Counter(MetricTokenRefreshTotal, metric.WithDescription("Total access token refreshes"))
	if err != nil {
		return err
	}

	m.CalcSubmittedTotal, err = meter.Int64Counter(MetricCalcSubmittedTotal, metric.WithDescription("Total calculations submitted"))
	if err != nil {
		return err
	}

	m.CalcCompletedTotal, err = meter.Int64Counter(MetricCalcCompletedTotal, metric.WithDescription("Total calculations completed"))
	if err != nil {
		return err
	}

	m.CalcFailedTotal, err = meter.Int64Counter(MetricCalcFailedTotal, metric.WithDescription("Total calculations that ended in failure"))
	if err != nil {
		return err
	}

	m.CalcCancelledTotal, err = meter.Int64Counter(MetricCalcCancelledTotal, metric.WithDescription("Total calculations cancelled before completion"))
	if err != nil {
		return err
	}

	m.PollsTotal, err = meter.Int64Counter(MetricPollsTotal, metric.WithDescription("Total status polls issued"))
	if err != nil {
		return err
	}

	m.CalculationsInflight, err = meter.Int64ObservableGauge(MetricCalculationsInflight, metric.WithDescription("Calculations currently awaiting completion"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for venue, val := range m.inflightMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("venue", venue)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Counter helpers below are safe to call before InitMetrics: instruments
// are nil until telemetry setup runs and increments are then dropped.

// AddTokenRefresh records one completed access token refresh
func (m *MetricsHolder) AddTokenRefresh(ctx context.Context) {
	if m.TokenRefreshTotal != nil {
		m.TokenRefreshTotal.Add(ctx, 1)
	}
}

// AddRetry records one transport-level retry attempt
func (m *MetricsHolder) AddRetry(ctx context.Context) {
	if m.RetriesTotal != nil {
		m.RetriesTotal.Add(ctx, 1)
	}
}

// AddCalcSubmitted records one calculation accepted by a venue
func (m *MetricsHolder) AddCalcSubmitted(ctx context.Context, venue string) {
	if m.CalcSubmittedTotal != nil {
		m.CalcSubmittedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

// AddCalcCompleted records one calculation reaching Completed
func (m *MetricsHolder) AddCalcCompleted(ctx context.Context, venue string) {
	if m.CalcCompletedTotal != nil {
		m.CalcCompletedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

// AddCalcFailed records one calculation ending in failure
func (m *MetricsHolder) AddCalcFailed(ctx context.Context, venue string) {
	if m.CalcFailedTotal != nil {
		m.CalcFailedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

// AddCalcCancelled records one calculation cancelled before completion
func (m *MetricsHolder) AddCalcCancelled(ctx context.Context, venue string) {
	if m.CalcCancelledTotal != nil {
		m.CalcCancelledTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

// AddPoll records one status poll against a venue
func (m *MetricsHolder) AddPoll(ctx context.Context, venue string) {
	if m.PollsTotal != nil {
		m.PollsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

// IncInflight records one more calculation awaiting completion on a venue
func (m *MetricsHolder) IncInflight(venue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflightMap[venue]++
}

// DecInflight records a calculation leaving the in-flight set
func (m *MetricsHolder) DecInflight(venue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflightMap[venue] > 0 {
		m.inflightMap[venue]--
	}
}

// GetInflight returns a snapshot of the in-flight gauge state
func (m *MetricsHolder) GetInflight() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.inflightMap {
		res[k] = v
	}
	return res
}
