package telemetry

import "time"

// ReloadStatus labels the outcome of a reload attempt.
type ReloadStatus string

const (
	// ReloadStatusSwapped indicates a new instance was installed.
	ReloadStatusSwapped ReloadStatus = "swapped"
	// ReloadStatusUnchanged indicates the source reported no change.
	ReloadStatusUnchanged ReloadStatus = "unchanged"
	// ReloadStatusFetchError indicates the fetch failed.
	ReloadStatusFetchError ReloadStatus = "fetch_error"
	// ReloadStatusTranslateError indicates translation or the factory failed.
	ReloadStatusTranslateError ReloadStatus = "translate_error"
)

// Metrics records operational metrics for fetches and reloads.
type Metrics interface {
	ObserveReload(resource string, status ReloadStatus, duration time.Duration)
	AddFetch(resource string, method string)
	SetResourceVersion(resource string, version string)
	SetServiceReady(service string, ready bool)
}

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveReload(_ string, _ ReloadStatus, _ time.Duration) {}

func (n *NoopMetrics) AddFetch(_ string, _ string) {}

func (n *NoopMetrics) SetResourceVersion(_ string, _ string) {}

func (n *NoopMetrics) SetServiceReady(_ string, _ bool) {}

var _ Metrics = (*NoopMetrics)(nil)
