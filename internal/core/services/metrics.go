package services

import "liveroom/internal/core/domain"

// Metrics receives coordination events for export. The prometheus
// collector in infrastructure/monitoring implements it.
type Metrics interface {
	ConnectionStateChanged(state domain.ConnectionState)
	ReconnectStarted()
	DataMessageDropped(reason string)
	SpeakGrantIssued()
	CallStarted()
	CallResolved(reason domain.CallEndReason)
	SessionStarted()
	SessionEnded()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionStateChanged(domain.ConnectionState) {}
func (nopMetrics) ReconnectStarted()                             {}
func (nopMetrics) DataMessageDropped(string)                     {}
func (nopMetrics) SpeakGrantIssued()                             {}
func (nopMetrics) CallStarted()                                  {}
func (nopMetrics) CallResolved(domain.CallEndReason)             {}
func (nopMetrics) SessionStarted()                               {}
func (nopMetrics) SessionEnded()                                 {}

// NopMetrics is used when no collector is wired.
func NopMetrics() Metrics { return nopMetrics{} }
