package services

import (
	"fmt"
	"sync"
	"time"

	"liveroom/pkg/utils"

	"go.uber.org/zap"
)

const (
	DefaultHostGracePeriod = 30 * time.Second
	defaultTickInterval    = time.Second
)

// HostDisconnectState exists only while the host is away; cleared on
// reconnect or session end.
type HostDisconnectState struct {
	Deadline         time.Time
	RemainingSeconds int
	Message          string
}

// HostDisconnectWatchdog drives the bounded grace-period countdown
// after the host drops. It never ends the session itself; that is the
// backend's session_ended notification.
type HostDisconnectWatchdog struct {
	logger       *zap.SugaredLogger
	gracePeriod  time.Duration
	tickInterval time.Duration
	onTick       func(remainingSeconds int)
	onCleared    func()

	mu       sync.Mutex
	deadline time.Time
	stopCh   chan struct{}
}

func NewHostDisconnectWatchdog(
	logger *zap.SugaredLogger,
	gracePeriod time.Duration,
	onTick func(remainingSeconds int),
	onCleared func(),
) *HostDisconnectWatchdog {
	if gracePeriod <= 0 {
		gracePeriod = DefaultHostGracePeriod
	}
	return &HostDisconnectWatchdog{
		logger:       logger,
		gracePeriod:  gracePeriod,
		tickInterval: defaultTickInterval,
		onTick:       onTick,
		onCleared:    onCleared,
	}
}

// HostDisconnected arms the countdown. A second notification while
// already counting restarts the deadline.
func (w *HostDisconnectWatchdog) HostDisconnected() {
	w.mu.Lock()
	w.stopLocked()
	w.deadline = time.Now().Add(w.gracePeriod)
	stop := make(chan struct{})
	w.stopCh = stop
	deadline := w.deadline
	w.mu.Unlock()

	w.logger.Infow("host disconnected, grace period started", "deadline", deadline)
	w.emit(deadline)
	go w.tickLoop(stop, deadline)
}

func (w *HostDisconnectWatchdog) tickLoop(stop chan struct{}, deadline time.Time) {
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			remaining := w.emit(deadline)
			if remaining == 0 {
				// Deadline reached; stop ticking and wait for the
				// backend's verdict.
				return
			}
		}
	}
}

// emit recomputes the remaining seconds, floored at zero.
func (w *HostDisconnectWatchdog) emit(deadline time.Time) int {
	remaining := utils.RemainingSeconds(time.Now(), deadline)
	if w.onTick != nil {
		w.onTick(remaining)
	}
	return remaining
}

// HostReconnected clears the countdown. Idempotent.
func (w *HostDisconnectWatchdog) HostReconnected() {
	w.clear("host reconnected")
}

// SessionEnded clears the countdown. Idempotent.
func (w *HostDisconnectWatchdog) SessionEnded() {
	w.clear("session ended")
}

// Close stops any pending countdown so no tick fires against a
// torn-down session.
func (w *HostDisconnectWatchdog) Close() {
	w.clear("watchdog closed")
}

func (w *HostDisconnectWatchdog) clear(reason string) {
	w.mu.Lock()
	wasActive := w.stopCh != nil
	w.stopLocked()
	w.deadline = time.Time{}
	w.mu.Unlock()

	if wasActive {
		w.logger.Infow("host grace period cleared", "reason", reason)
		if w.onCleared != nil {
			w.onCleared()
		}
	}
}

// stopLocked must be called with w.mu held.
func (w *HostDisconnectWatchdog) stopLocked() {
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
}

// State returns the current countdown view, nil while the host is
// present.
func (w *HostDisconnectWatchdog) State() *HostDisconnectState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deadline.IsZero() {
		return nil
	}
	remaining := utils.RemainingSeconds(time.Now(), w.deadline)
	return &HostDisconnectState{
		Deadline:         w.deadline,
		RemainingSeconds: remaining,
		Message:          fmt.Sprintf("Host connection lost. Waiting %ds for reconnect...", remaining),
	}
}
