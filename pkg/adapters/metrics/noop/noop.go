// Package noop provides a MetricsCollector that discards everything.
package noop

import "time"

// Collector discards all metrics
type Collector struct{}

// NewCollector returns a collector that records nothing
func NewCollector() Collector { return Collector{} }

func (Collector) RecordJobSubmitted(string)                {}
func (Collector) RecordJobCompleted(string, time.Duration) {}
func (Collector) RecordResultDelivered(string)             {}
func (Collector) SetActiveSessions(int)                    {}
func (Collector) RecordWorkerPoolStatus(int, int, int)     {}
