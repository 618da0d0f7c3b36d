package inject

import (
	"time"

	"go.viam.com/depthcapture/recording"
)

// Sink is an injected recording sink.
type Sink struct {
	recording.Sink
	StartSessionFunc     func(at time.Duration) error
	ReadyForMoreDataFunc func() bool
	AppendFunc           func(s recording.Sample) error
	FinishFunc           func(done func(error))
}

// StartSession calls the injected StartSession or the real version.
func (s *Sink) StartSession(at time.Duration) error {
	if s.StartSessionFunc == nil {
		return s.Sink.StartSession(at)
	}
	return s.StartSessionFunc(at)
}

// ReadyForMoreData calls the injected ReadyForMoreData or the real version.
func (s *Sink) ReadyForMoreData() bool {
	if s.ReadyForMoreDataFunc == nil {
		return s.Sink.ReadyForMoreData()
	}
	return s.ReadyForMoreDataFunc()
}

// Append calls the injected Append or the real version.
func (s *Sink) Append(sample recording.Sample) error {
	if s.AppendFunc == nil {
		return s.Sink.Append(sample)
	}
	return s.AppendFunc(sample)
}

// Finish calls the injected Finish or the real version.
func (s *Sink) Finish(done func(error)) {
	if s.FinishFunc == nil {
		s.Sink.Finish(done)
		return
	}
	s.FinishFunc(done)
}
