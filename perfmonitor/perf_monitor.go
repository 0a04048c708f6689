// Package perfmonitor provides a stopwatch for timing a single operation,
// such as one client round trip.
package perfmonitor

import "time"

// PerformanceMonitor records a start and an end time. It is not safe for
// concurrent use; give each goroutine its own monitor.
type PerformanceMonitor struct {
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no recorded times.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start time and clears any earlier end time.
func (pm *PerformanceMonitor) Start() {
	pm.startTime = time.Now()
	pm.endTime = time.Time{}
}

// Stop records the end time. It does nothing if Start has not been called
// since the last Reset.
func (pm *PerformanceMonitor) Stop() {
	if pm.startTime.IsZero() {
		return
	}

	pm.endTime = time.Now()
}

// Reset clears both recorded times.
func (pm *PerformanceMonitor) Reset() {
	pm.startTime = time.Time{}
	pm.endTime = time.Time{}
}

// Elapsed returns the time between Start and Stop, or zero if either is missing.
func (pm *PerformanceMonitor) Elapsed() time.Duration {
	if pm.startTime.IsZero() || pm.endTime.IsZero() {
		return 0
	}

	return pm.endTime.Sub(pm.startTime)
}

// ElapsedMilliseconds returns Elapsed as fractional milliseconds.
func (pm *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(pm.Elapsed()) / float64(time.Millisecond)
}
