package merger

import (
	"time"

	"go.uber.org/zap"
)

type tickStat struct {
	StartTime time.Time
	EndTime   time.Time
	Seen      uint
	Eligible  uint
	Merged    uint
	Rejected  uint
	Failures  uint
}

func (s *tickStat) LogFields() []zap.Field {
	return []zap.Field{
		zap.Duration("tick_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("tick.seen", s.Seen),
		zap.Uint("tick.eligible", s.Eligible),
		zap.Uint("tick.merged", s.Merged),
		zap.Uint("tick.rejected", s.Rejected),
		zap.Uint("tick.failures", s.Failures),
	}
}
