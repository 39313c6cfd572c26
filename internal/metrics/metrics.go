package metrics

import (
	"sync"
	"time"
)

// Counter metrics
const (
	CounterHTTPRequests        = "http_requests_total"
	CounterHTTPRequestsSuccess = "http_requests_success_total"
	CounterHTTPRequestsError   = "http_requests_error_total"
	CounterEventsSaved         = "events_saved_total"
	CounterEventsPublished     = "events_published_total"
	CounterDeadLetters         = "dead_letters_total"
	CounterCommandsDispatched  = "commands_dispatched_total"
	CounterCommandsFailed      = "commands_failed_total"
	CounterQueriesDispatched   = "queries_dispatched_total"
	CounterRulesEvaluated      = "rules_evaluated_total"
	CounterRulesExecuted       = "rules_executed_total"
	CounterRuleActionsFailed   = "rule_actions_failed_total"
	CounterIdempotencyHits     = "idempotency_hits_total"
	CounterIdempotencyConflict = "idempotency_collisions_total"
	CounterScansDeduplicated   = "scans_deduplicated_total"
	CounterErrorsTotal         = "errors_total"
)

// Gauge metrics
const (
	GaugeActiveRules       = "active_rules"
	GaugePendingDeadLetter = "pending_dead_letters"
)

// Error types
const (
	ErrorTypeHTTP       = "http"
	ErrorTypeValidation = "validation"
	ErrorTypeDatabase   = "database"
	ErrorTypeMessageBus = "message_bus"
	ErrorTypeInternal   = "internal"
)

// Collector provides a centralized way to collect and retrieve metrics.
// One instance is constructed at boot and injected; there is no package
// singleton, so tests get a fresh collector each.
type Collector struct {
	mutex               sync.RWMutex
	counters            map[string]int64
	gauges              map[string]float64
	requestCounts       map[string]int64
	requestLatencies    map[string][]time.Duration
	ruleBatchLatencies  map[string][]time.Duration
	commandLatencies    map[string][]time.Duration
	errorCounts         map[string]int64
	startTime           time.Time
	maxHistogramSamples int
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		counters:            make(map[string]int64),
		gauges:              make(map[string]float64),
		requestCounts:       make(map[string]int64),
		requestLatencies:    make(map[string][]time.Duration),
		ruleBatchLatencies:  make(map[string][]time.Duration),
		commandLatencies:    make(map[string][]time.Duration),
		errorCounts:         make(map[string]int64),
		startTime:           time.Now(),
		maxHistogramSamples: 1000,
	}
}

// IncrementCounter increments a counter by the given value
func (m *Collector) IncrementCounter(name string, value int64) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters[name] += value
}

// SetGauge sets a gauge to the given value
func (m *Collector) SetGauge(name string, value float64) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.gauges[name] = value
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Collector) RecordHTTPRequest(path string, statusCode int, latency time.Duration) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterHTTPRequests]++
	m.requestCounts[path]++
	m.requestLatencies[path] = appendBounded(m.requestLatencies[path], latency, m.maxHistogramSamples)

	if statusCode >= 200 && statusCode < 400 {
		m.counters[CounterHTTPRequestsSuccess]++
	} else {
		m.counters[CounterHTTPRequestsError]++
		m.errorCounts[ErrorTypeHTTP]++
	}
}

// RecordRuleBatch records metrics for one rules-engine batch
func (m *Collector) RecordRuleBatch(category string, evaluated, executed int, latency time.Duration) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterRulesEvaluated] += int64(evaluated)
	m.counters[CounterRulesExecuted] += int64(executed)
	m.ruleBatchLatencies[category] = appendBounded(m.ruleBatchLatencies[category], latency, m.maxHistogramSamples)
}

// RecordCommand records metrics for a command dispatch
func (m *Collector) RecordCommand(commandType string, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterCommandsDispatched]++
	if !success {
		m.counters[CounterCommandsFailed]++
		m.errorCounts[ErrorTypeInternal]++
	}
	m.commandLatencies[commandType] = appendBounded(m.commandLatencies[commandType], latency, m.maxHistogramSamples)
}

// RecordError records an error of the given type
func (m *Collector) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.errorCounts[errorType]++
	m.counters[CounterErrorsTotal]++
}

// GetMetrics returns all collected metrics in a structured format
func (m *Collector) GetMetrics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}
	errorCounts := make(map[string]int64, len(m.errorCounts))
	for k, v := range m.errorCounts {
		errorCounts[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds":          time.Since(m.startTime).Seconds(),
		"counters":                counters,
		"gauges":                  gauges,
		"request_counts":          m.requestCounts,
		"request_latencies_ms":    averageLatencies(m.requestLatencies),
		"rule_batch_latencies_ms": averageLatencies(m.ruleBatchLatencies),
		"command_latencies_ms":    averageLatencies(m.commandLatencies),
		"error_counts":            errorCounts,
	}
}

// GetHealthStatus returns a simple health status based on metrics
func (m *Collector) GetHealthStatus() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	healthy := true
	errorRate := 0.0
	totalRequests := m.counters[CounterHTTPRequests]
	if totalRequests > 0 {
		errorRate = float64(m.counters[CounterHTTPRequestsError]) / float64(totalRequests)
	}

	const errorRateThreshold = 0.05
	if errorRate > errorRateThreshold {
		healthy = false
	}

	return map[string]interface{}{
		"status": map[string]interface{}{
			"healthy":        healthy,
			"uptime_seconds": time.Since(m.startTime).Seconds(),
		},
		"metrics": map[string]interface{}{
			"total_requests":      totalRequests,
			"error_rate":          errorRate,
			"commands_dispatched": m.counters[CounterCommandsDispatched],
			"commands_failed":     m.counters[CounterCommandsFailed],
			"rules_executed":      m.counters[CounterRulesExecuted],
			"dead_letters":        m.counters[CounterDeadLetters],
			"idempotency_hits":    m.counters[CounterIdempotencyHits],
			"scans_deduplicated":  m.counters[CounterScansDeduplicated],
		},
	}
}

func appendBounded(samples []time.Duration, value time.Duration, max int) []time.Duration {
	if len(samples) >= max {
		samples = samples[1:]
	}
	return append(samples, value)
}

func averageLatencies(byKey map[string][]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(byKey))
	for key, latencies := range byKey {
		if len(latencies) == 0 {
			continue
		}
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		out[key] = float64(sum.Milliseconds()) / float64(len(latencies))
	}
	return out
}
