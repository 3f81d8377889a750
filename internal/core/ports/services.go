package ports

import (
	"context"

	"liveroom/internal/core/domain"
)

// SessionSnapshot is the read-only view handlers expose of one live
// session's coordinated state.
type SessionSnapshot struct {
	Session       *domain.Session        `json:"session,omitempty"`
	Connection    domain.ConnectionState `json:"connection"`
	Participants  []domain.Participant   `json:"participants"`
	LocalMedia    domain.LocalMediaState `json:"local_media"`
	QualityLevel  domain.QualityLevel    `json:"quality_level"`
	QualityBars   int                    `json:"quality_bars"`
	QualityAlert  bool                   `json:"quality_alert"`
	HostCountdown int                    `json:"host_countdown"`
}

// SessionCoordinator drives one logical session end to end.
type SessionCoordinator interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*domain.Session, error)
	JoinSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	LeaveSession(ctx context.Context) error
	EndSession(ctx context.Context) error
	Snapshot() SessionSnapshot
}
