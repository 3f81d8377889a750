package domain

// QualityLevel is the 4-level transport quality signal.
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityPoor      QualityLevel = "poor"
	QualityLost      QualityLevel = "lost"
)

// Bars maps a quality level to a 0-4 signal-bar count.
func (q QualityLevel) Bars() int {
	switch q {
	case QualityExcellent:
		return 4
	case QualityGood:
		return 3
	case QualityPoor:
		return 1
	case QualityLost:
		return 0
	default:
		return 0
	}
}

// Degraded reports whether the level counts toward a degradation streak.
func (q QualityLevel) Degraded() bool {
	return q == QualityPoor || q == QualityLost
}
