// Package recording multiplexes the depth half of synchronized tuples into a media container.
//
// A Writer is a small state machine around a Sink. Arm, Submit and Finalize must all be called
// from one serialized context (the capture delivery queue); the Writer does no locking of its
// session state. The only asynchronous step, the sink confirming that the container is closed, is
// routed back onto that context through Options.Dispatch.
package recording

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/utils"
)

// Result describes a finished session. Err is nil when the container was written and closed
// cleanly.
type Result struct {
	SessionID       string
	Path            string
	SamplesAppended uint64
	SamplesDropped  uint64
	Err             error
}

// Options configure a Writer.
type Options struct {
	// Path is where each session's container is written. Any file already there is removed by Arm.
	Path     string
	Settings Settings
	NewSink  SinkFactory

	// Dispatch runs fn on the writer's serialized context. It is used to deliver the sink's
	// asynchronous completion. Nil runs fn inline, which is only correct for sinks that complete
	// synchronously from Finish.
	Dispatch func(fn func())

	// OnFinalized is called on the serialized context after a session returns to idle.
	OnFinalized func(Result)
}

// Stats are counters for the current or most recent session, safe to read from any goroutine.
type Stats struct {
	SessionID       string
	State           State
	SamplesAppended uint64
	SamplesDropped  uint64
}

// A Writer records depth frames while armed.
type Writer struct {
	opts   Options
	logger logging.Logger

	// session state, serialized context only
	sink             Sink
	sessionStart     time.Duration
	haveSessionStart bool

	state     atomic.Int32
	sessionID atomic.String
	appended  atomic.Uint64
	dropped   atomic.Uint64
}

// NewWriter returns an idle Writer.
func NewWriter(opts Options, logger logging.Logger) (*Writer, error) {
	if opts.Path == "" {
		return nil, utils.NewConfigValidationFieldRequiredError("recording", "output_path")
	}
	if opts.NewSink == nil {
		return nil, errors.New("recording writer needs a sink factory")
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(fn func()) { fn() }
	}
	return &Writer{opts: opts, logger: logger}, nil
}

// Path returns the output path.
func (w *Writer) Path() string {
	return w.opts.Path
}

// State returns the current state. It is safe to call from any goroutine.
func (w *Writer) State() State {
	return State(w.state.Load())
}

func (w *Writer) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	w.logger.Debugw("recording state changed", "from", prev, "to", s, "session", w.sessionID.Load())
}

// Stats returns the counters of the current or most recent session.
func (w *Writer) Stats() Stats {
	return Stats{
		SessionID:       w.sessionID.Load(),
		State:           w.State(),
		SamplesAppended: w.appended.Load(),
		SamplesDropped:  w.dropped.Load(),
	}
}

// SessionStart returns the timestamp the current session's clock is anchored on, once the first
// frame has been submitted.
func (w *Writer) SessionStart() (time.Duration, bool) {
	return w.sessionStart, w.haveSessionStart
}

// Arm clears the output path, opens a new container and starts writing. It fails with
// ErrAlreadyArmed unless idle, and with ErrAllocationFailed if the output cannot be created.
func (w *Writer) Arm() error {
	if s := w.State(); s != StateIdle {
		return &WriterError{Op: "arm", Kind: ErrAlreadyArmed, Err: errors.Errorf("writer is %s", s)}
	}
	if err := utils.RemoveFileIfExists(w.opts.Path); err != nil {
		return &WriterError{Op: "arm", Kind: ErrAllocationFailed, Err: err}
	}
	if err := utils.EnsureParentDir(w.opts.Path); err != nil {
		return &WriterError{Op: "arm", Kind: ErrAllocationFailed, Err: err}
	}
	sink, err := w.opts.NewSink(w.opts.Path, w.opts.Settings)
	if err != nil {
		return &WriterError{Op: "arm", Kind: ErrAllocationFailed, Err: err}
	}

	w.sink = sink
	w.sessionStart = 0
	w.haveSessionStart = false
	w.appended.Store(0)
	w.dropped.Store(0)
	w.sessionID.Store(uuid.NewString())
	w.setState(StateWriting)
	w.logger.Infow("recording armed",
		"session", w.sessionID.Load(),
		"path", w.opts.Path,
		"width", w.opts.Settings.Width,
		"height", w.opts.Settings.Height,
		"bitrate_kbps", w.opts.Settings.BitrateKbps)
	return nil
}

// Submit appends depth at the paired color frame's timestamp. It does nothing unless writing.
// The first submission after Arm anchors the session on colorTimestamp. A frame the sink is not
// ready for, or one older than the session start, is dropped.
func (w *Writer) Submit(depth *capture.RawDepthFrame, colorTimestamp, colorDuration time.Duration) {
	if w.State() != StateWriting {
		return
	}
	if depth == nil || depth.Dropped() || depth.Depth == nil {
		return
	}
	if !w.haveSessionStart {
		if err := w.sink.StartSession(colorTimestamp); err != nil {
			w.fail("start session", err)
			return
		}
		w.sessionStart = colorTimestamp
		w.haveSessionStart = true
		w.logger.Debugw("recording session started", "session", w.sessionID.Load(), "at", colorTimestamp)
	}
	if colorTimestamp < w.sessionStart {
		w.dropped.Inc()
		w.logger.Debugw("depth frame precedes session start, dropped", "ts", colorTimestamp, "start", w.sessionStart)
		return
	}
	if !w.sink.ReadyForMoreData() {
		w.dropped.Inc()
		w.logger.Debugw("sink not ready, depth frame dropped", "ts", colorTimestamp)
		return
	}
	sample := NewDepthSample(depth.Depth, colorTimestamp, colorDuration, w.opts.Settings)
	if err := w.sink.Append(sample); err != nil {
		w.fail("append", err)
		return
	}
	w.appended.Inc()
}

// SubmitTuple submits the depth half of tuple. It can be registered directly as a synchronizer
// consumer.
func (w *Writer) SubmitTuple(tuple capture.SynchronizedTuple) {
	w.Submit(tuple.Depth, tuple.Color.Timestamp, tuple.Color.Duration)
}

// Finalize ends the session. The writer is Finishing until the sink confirms the container is
// closed, then returns to Idle and reports through Options.OnFinalized. It does nothing unless
// writing.
func (w *Writer) Finalize() {
	if w.State() != StateWriting {
		return
	}
	w.setState(StateFinishing)
	w.logger.Infow("finalizing recording",
		"session", w.sessionID.Load(),
		"samples", w.appended.Load(),
		"dropped", w.dropped.Load())
	w.finish(nil)
}

func (w *Writer) fail(op string, err error) {
	werr := &WriterError{Op: op, Err: err}
	w.logger.Errorw("recording failed", "session", w.sessionID.Load(), "error", werr)
	w.setState(StateFailed)
	w.finish(werr)
}

func (w *Writer) finish(cause error) {
	sink := w.sink
	w.sink = nil
	sink.Finish(func(err error) {
		w.opts.Dispatch(func() {
			w.complete(multierr.Combine(cause, err))
		})
	})
}

func (w *Writer) complete(err error) {
	res := Result{
		SessionID:       w.sessionID.Load(),
		Path:            w.opts.Path,
		SamplesAppended: w.appended.Load(),
		SamplesDropped:  w.dropped.Load(),
		Err:             err,
	}
	w.sessionStart = 0
	w.haveSessionStart = false
	w.setState(StateIdle)
	if err != nil {
		w.logger.Warnw("recording finished with error", "session", res.SessionID, "error", err)
	} else {
		w.logger.Infow("recording finalized", "session", res.SessionID, "path", res.Path, "samples", res.SamplesAppended)
	}
	if w.opts.OnFinalized != nil {
		w.opts.OnFinalized(res)
	}
}
