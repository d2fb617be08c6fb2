package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Metrics interface for dependency injection
type Metrics interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)
	RecordMessageProcessed(channel, status string)
	RecordGeocode(source, status string)
	RecordTracksPruned(count int)
	RecordSourceRun(source string, duration time.Duration)
	SetDBConnectionsActive(count float64)
	RecordDBQuery(operation, status string)
	Handler() http.Handler
}

// NoOpMetrics provides a no-op implementation
type NoOpMetrics struct{}

func (m *NoOpMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
}
func (m *NoOpMetrics) RecordMessageProcessed(channel, status string)         {}
func (m *NoOpMetrics) RecordGeocode(source, status string)                   {}
func (m *NoOpMetrics) RecordTracksPruned(count int)                          {}
func (m *NoOpMetrics) RecordSourceRun(source string, duration time.Duration) {}
func (m *NoOpMetrics) SetDBConnectionsActive(count float64)                  {}
func (m *NoOpMetrics) RecordDBQuery(operation, status string)                {}
func (m *NoOpMetrics) Handler() http.Handler                                 { return http.NotFoundHandler() }

var (
	mu            sync.RWMutex
	globalMetrics Metrics = &NoOpMetrics{}
)

// Init initializes metrics (no-op for now, can be extended with a real backend)
func Init() {}

// Set replaces the global metrics implementation
func Set(m Metrics) {
	if m == nil {
		m = &NoOpMetrics{}
	}
	mu.Lock()
	globalMetrics = m
	mu.Unlock()
}

func current() Metrics {
	mu.RLock()
	defer mu.RUnlock()
	return globalMetrics
}

// Handler returns the metrics handler
func Handler() http.Handler {
	return current().Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	current().RecordHTTPRequest(method, endpoint, statusCode, duration)
}

// RecordMessageProcessed records a pipeline outcome per channel
func RecordMessageProcessed(channel, status string) {
	current().RecordMessageProcessed(channel, status)
}

// RecordGeocode records a geocoding attempt by resolving source
func RecordGeocode(source, status string) {
	current().RecordGeocode(source, status)
}

// RecordTracksPruned records tracks removed by retention
func RecordTracksPruned(count int) {
	current().RecordTracksPruned(count)
}

// RecordSourceRun records a polling source run
func RecordSourceRun(source string, duration time.Duration) {
	current().RecordSourceRun(source, duration)
}

// SetDBConnectionsActive sets the number of active database connections
func SetDBConnectionsActive(count float64) {
	current().SetDBConnectionsActive(count)
}

// RecordDBQuery records database query metrics
func RecordDBQuery(operation, status string) {
	current().RecordDBQuery(operation, status)
}
