package viewer

import (
	"time"

	"github.com/loov/hrtime"
	"github.com/sirupsen/logrus"
)

// FrameStats accumulates frame timings. The zero value is ready to use.
type FrameStats struct {
	Frames  uint64
	Total   time.Duration
	Slowest time.Duration

	start time.Duration
}

func (s *FrameStats) begin() {
	s.start = hrtime.Now()
}

func (s *FrameStats) end() {
	s.record(hrtime.Since(s.start))
}

func (s *FrameStats) record(elapsed time.Duration) {
	s.Frames++
	s.Total += elapsed
	if elapsed > s.Slowest {
		s.Slowest = elapsed
	}
}

// Mean is the average frame time, or 0 before the first frame.
func (s *FrameStats) Mean() time.Duration {
	if s.Frames == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Frames)
}

func (s *FrameStats) Log(logger logrus.FieldLogger) {
	fields := logrus.Fields{
		"frames":  s.Frames,
		"mean":    s.Mean(),
		"slowest": s.Slowest,
	}
	if mean := s.Mean(); mean > 0 {
		fields["fps"] = float64(time.Second) / float64(mean)
	}
	logger.WithFields(fields).Info("frame statistics")
}
