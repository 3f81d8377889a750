package services

import (
	"sync"
	"time"

	"liveroom/internal/core/domain"

	"go.uber.org/zap"
)

const DefaultQualityThreshold = 5 * time.Second

// QualityWarningMessage is the fixed user-facing text raised when the
// connection stays degraded past the threshold.
const QualityWarningMessage = "Your connection is unstable. Audio may cut out."

// ConnectionQualityMonitor samples transport-reported quality and
// raises a debounced warning: degradation must persist past the
// threshold, recovery clears instantly.
type ConnectionQualityMonitor struct {
	logger    *zap.SugaredLogger
	threshold time.Duration
	onWarning func(message string)
	onCleared func()

	mu            sync.Mutex
	level         domain.QualityLevel
	degradedSince time.Time
	warningActive bool
	timer         *time.Timer
}

func NewConnectionQualityMonitor(
	logger *zap.SugaredLogger,
	threshold time.Duration,
	onWarning func(message string),
	onCleared func(),
) *ConnectionQualityMonitor {
	if threshold <= 0 {
		threshold = DefaultQualityThreshold
	}
	return &ConnectionQualityMonitor{
		logger:    logger,
		threshold: threshold,
		onWarning: onWarning,
		onCleared: onCleared,
		level:     domain.QualityGood,
	}
}

// Observe feeds one quality sample from the transport.
func (m *ConnectionQualityMonitor) Observe(level domain.QualityLevel) {
	m.mu.Lock()
	m.level = level

	if !level.Degraded() {
		// Recovery clears immediately; only degradation is debounced.
		m.degradedSince = time.Time{}
		m.stopTimerLocked()
		wasActive := m.warningActive
		m.warningActive = false
		m.mu.Unlock()
		if wasActive && m.onCleared != nil {
			m.onCleared()
		}
		return
	}

	if m.degradedSince.IsZero() {
		m.degradedSince = time.Now()
		m.stopTimerLocked()
		m.timer = time.AfterFunc(m.threshold, m.onThresholdElapsed)
	}
	m.mu.Unlock()
}

func (m *ConnectionQualityMonitor) onThresholdElapsed() {
	m.mu.Lock()
	if m.degradedSince.IsZero() || m.warningActive {
		m.mu.Unlock()
		return
	}
	m.warningActive = true
	m.mu.Unlock()

	m.logger.Warnw("connection quality degraded past threshold", "threshold", m.threshold)
	if m.onWarning != nil {
		m.onWarning(QualityWarningMessage)
	}
}

// Close cancels the pending threshold timer.
func (m *ConnectionQualityMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.degradedSince = time.Time{}
	m.warningActive = false
}

// stopTimerLocked must be called with m.mu held.
func (m *ConnectionQualityMonitor) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnectionQualityMonitor) Level() domain.QualityLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *ConnectionQualityMonitor) Bars() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level.Bars()
}

func (m *ConnectionQualityMonitor) WarningActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningActive
}
