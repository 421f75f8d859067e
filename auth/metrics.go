package auth

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertCSRFFailureSpike  AlertType = "csrf_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection.
// It watches the audit stream rather than instrumenting handlers directly.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	csrfFailures  []time.Time
	csrfWindow    time.Duration
	csrfThreshold int

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultCSRFFailureWindow     = 5 * time.Minute
	defaultCSRFFailureThreshold  = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginWindow:    defaultLoginFailureWindow,
		loginThreshold: defaultLoginFailureThreshold,
		csrfWindow:     defaultCSRFFailureWindow,
		csrfThreshold:  defaultCSRFFailureThreshold,
		alertFn:        alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure, AuditVerifyFailure, AuditGuestbookLoginFailure:
		m.recordLoginFailure()
	case AuditCSRFFailure:
		m.recordCSRFFailure()
	}
}

func (m *metricsCollector) recordLoginFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.loginFailures = append(m.loginFailures, now)
	m.loginFailures = trimWindow(m.loginFailures, now, m.loginWindow)

	if len(m.loginFailures) >= m.loginThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   "authentication failure rate exceeds threshold",
			Count:     len(m.loginFailures),
			Threshold: m.loginThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.loginFailures = m.loginFailures[:0]
	}
}

func (m *metricsCollector) recordCSRFFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.csrfFailures = append(m.csrfFailures, now)
	m.csrfFailures = trimWindow(m.csrfFailures, now, m.csrfWindow)

	if len(m.csrfFailures) >= m.csrfThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertCSRFFailureSpike,
			Message:   "csrf failure rate exceeds threshold",
			Count:     len(m.csrfFailures),
			Threshold: m.csrfThreshold,
			Timestamp: now,
		})
		m.csrfFailures = m.csrfFailures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
