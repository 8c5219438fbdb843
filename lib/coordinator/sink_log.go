package coordinator

import (
	"github.com/lni/dragonboat/v4/logger"
)

// logSink writes reports to a logger
type logSink struct {
	log logger.ILogger
}

// NewLogSink returns a Sink that logs every contended lock as a warning
// and every wait-for cycle as an error
func NewLogSink(log logger.ILogger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Report(r Report) {
	for _, c := range r.Contended {
		s.log.Warningf("contention: %s", c)
	}
	for _, cy := range r.Cycles {
		s.log.Errorf("deadlock detected: %s", cy)
	}
}
