// Package synchronizer pairs the independently delivered color, depth and metadata streams of a
// FrameSource into one SynchronizedTuple per color frame.
//
// A tick is anchored on a color frame. Depth and metadata correlate with a tick when their
// timestamps are within Config.Tolerance of the color timestamp. A secondary frame that is not
// newer than the last completed tick is late and is discarded, so it can never be attributed to a
// later tick. At most one tick is pending at a time and ticks complete in color arrival order.
//
// Every method except Stats and AddConsumer must be called from the same serialized delivery
// context; the Synchronizer does no locking of its tick state.
package synchronizer

import (
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/atomic"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/logging"
)

// DefaultMaxPending bounds how many not-yet-matched frames are buffered per secondary stream.
const DefaultMaxPending = 8

// Config controls how ticks are formed.
type Config struct {
	// Tolerance is how far apart a secondary and a color timestamp may be and still correlate.
	// Keep it below half the color frame interval. Zero means timestamps must match exactly.
	Tolerance time.Duration
	// AwaitDepth holds a tick until its depth frame arrives, is proven missing (a newer depth
	// frame arrives), or the next color frame arrives. Ignored if the source has no depth.
	AwaitDepth bool
	// AwaitMetadata is AwaitDepth for metadata. Metadata is usually sparse, so this is off by
	// default and metadata that has not arrived by the time a tick completes is absent.
	AwaitMetadata bool
	// MaxPending bounds the per-stream buffers; the oldest frame is evicted first.
	MaxPending int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{AwaitDepth: true, MaxPending: DefaultMaxPending}
}

// Consumer receives each tuple synchronously, before the next tick is processed. It must not
// retain the tuple's image or depth buffers after returning; copy them out if needed.
type Consumer func(capture.SynchronizedTuple)

// Stats are running counters, safe to read from any goroutine.
type Stats struct {
	TicksEmitted     uint64
	ColorDropped     uint64
	ColorOutOfOrder  uint64
	DepthDropped     uint64
	MetadataDropped  uint64
	LateDiscarded    uint64
	PendingEvictions uint64
}

type pendingTick struct {
	color capture.RawColorFrame

	depth         *capture.RawDepthFrame
	depthResolved bool

	detection    *capture.MetadataDetection
	metaResolved bool
}

// A Synchronizer turns raw deliveries into SynchronizedTuples.
type Synchronizer struct {
	cfg    Config
	logger logging.Logger

	consumersMu sync.Mutex
	consumers   map[int]Consumer
	consumerIDs []int
	nextID      int

	// tick state, delivery context only
	awaitDepth    bool
	awaitMetadata bool
	mapDetection  capture.DetectionMapper
	pending       *pendingTick
	horizon       time.Duration
	haveHorizon   bool
	depthBuf      []capture.RawDepthFrame
	metaBuf       []capture.RawMetadata

	ticksEmitted     atomic.Uint64
	colorDropped     atomic.Uint64
	colorOutOfOrder  atomic.Uint64
	depthDropped     atomic.Uint64
	metadataDropped  atomic.Uint64
	lateDiscarded    atomic.Uint64
	pendingEvictions atomic.Uint64
}

// New returns a Synchronizer. Call Reset with the source's properties before the first delivery.
func New(cfg Config, logger logging.Logger) *Synchronizer {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	s := &Synchronizer{
		cfg:       cfg,
		logger:    logger,
		consumers: map[int]Consumer{},
	}
	s.Reset(capture.Properties{SupportsDepth: true, SupportsMetadata: true}, nil)
	return s
}

// AddConsumer registers c and returns a function that unregisters it. Consumers are called in
// registration order.
func (s *Synchronizer) AddConsumer(c Consumer) (remove func()) {
	s.consumersMu.Lock()
	defer s.consumersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.consumers[id] = c
	s.consumerIDs = append(s.consumerIDs, id)
	return func() {
		s.consumersMu.Lock()
		defer s.consumersMu.Unlock()
		delete(s.consumers, id)
		s.consumerIDs = lo.Without(s.consumerIDs, id)
	}
}

// Reset discards all tick state and adapts to a (re)started source. A nil mapper uses the default
// mapping for an unmirrored camera.
func (s *Synchronizer) Reset(props capture.Properties, mapper capture.DetectionMapper) {
	if mapper == nil {
		mapper = capture.NewDetectionMapper(capture.CameraConfiguration{})
	}
	s.awaitDepth = s.cfg.AwaitDepth && props.SupportsDepth
	s.awaitMetadata = s.cfg.AwaitMetadata && props.SupportsMetadata
	s.mapDetection = mapper
	s.pending = nil
	s.haveHorizon = false
	s.horizon = 0
	s.depthBuf = nil
	s.metaBuf = nil
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		TicksEmitted:     s.ticksEmitted.Load(),
		ColorDropped:     s.colorDropped.Load(),
		ColorOutOfOrder:  s.colorOutOfOrder.Load(),
		DepthDropped:     s.depthDropped.Load(),
		MetadataDropped:  s.metadataDropped.Load(),
		LateDiscarded:    s.lateDiscarded.Load(),
		PendingEvictions: s.pendingEvictions.Load(),
	}
}

// HandleColor starts a new tick. Any pending tick is completed first with whatever it has.
// A dropped color frame discards its whole tick, including secondaries that correlate with it.
// A color frame that is not newer than the last tick is discarded the same way, so tuples are
// always emitted in increasing timestamp order.
func (s *Synchronizer) HandleColor(frame capture.RawColorFrame) {
	s.Flush()

	ts := frame.Timestamp
	if !frame.Dropped() && s.isLate(ts) {
		s.colorOutOfOrder.Inc()
		s.logger.Debugw("out of order color frame discarded", "ts", ts, "seq", frame.Seq, "horizon", s.horizon)
		return
	}
	if frame.Dropped() {
		s.colorDropped.Inc()
		s.logger.Debugw("color frame dropped, discarding tick", "ts", ts, "seq", frame.Seq, "reason", frame.DropReason)
		s.advanceHorizon(ts)
		s.depthBuf = lo.Filter(s.depthBuf, func(d capture.RawDepthFrame, _ int) bool {
			return d.Timestamp > ts+s.cfg.Tolerance
		})
		s.metaBuf = lo.Filter(s.metaBuf, func(m capture.RawMetadata, _ int) bool {
			return m.Timestamp > ts+s.cfg.Tolerance
		})
		return
	}

	s.pending = &pendingTick{color: frame}
	s.resolveDepthFromBuffer()
	s.resolveMetadataFromBuffer()
	s.emitIfComplete()
}

// HandleDepth offers a depth frame to the pending tick or buffers it for a later one.
func (s *Synchronizer) HandleDepth(frame capture.RawDepthFrame) {
	if s.isLate(frame.Timestamp) {
		s.lateDiscarded.Inc()
		s.logger.Debugw("late depth frame discarded", "ts", frame.Timestamp, "seq", frame.Seq)
		return
	}
	if p := s.pending; p != nil && !p.depthResolved {
		switch {
		case s.correlates(frame.Timestamp, p.color.Timestamp):
			s.attachDepth(frame)
			s.emitIfComplete()
			return
		case frame.Timestamp > p.color.Timestamp+s.cfg.Tolerance:
			// The stream has moved past this tick, so its depth is not coming.
			p.depthResolved = true
		}
	}
	s.depthBuf = append(s.depthBuf, frame)
	if len(s.depthBuf) > s.cfg.MaxPending {
		s.depthBuf = s.depthBuf[1:]
		s.pendingEvictions.Inc()
	}
	s.emitIfComplete()
}

// HandleMetadata offers a metadata set to the pending tick or buffers it for a later one.
func (s *Synchronizer) HandleMetadata(meta capture.RawMetadata) {
	if s.isLate(meta.Timestamp) {
		s.lateDiscarded.Inc()
		s.logger.Debugw("late metadata discarded", "ts", meta.Timestamp, "seq", meta.Seq)
		return
	}
	if p := s.pending; p != nil && !p.metaResolved {
		switch {
		case s.correlates(meta.Timestamp, p.color.Timestamp):
			s.attachMetadata(meta)
			s.emitIfComplete()
			return
		case meta.Timestamp > p.color.Timestamp+s.cfg.Tolerance:
			p.metaResolved = true
		}
	}
	s.metaBuf = append(s.metaBuf, meta)
	if len(s.metaBuf) > s.cfg.MaxPending {
		s.metaBuf = s.metaBuf[1:]
		s.pendingEvictions.Inc()
	}
	s.emitIfComplete()
}

// Flush completes the pending tick, if any, with whatever secondaries it has collected.
func (s *Synchronizer) Flush() {
	if s.pending == nil {
		return
	}
	s.emit()
}

func (s *Synchronizer) correlates(secondary, color time.Duration) bool {
	diff := secondary - color
	if diff < 0 {
		diff = -diff
	}
	return diff <= s.cfg.Tolerance
}

func (s *Synchronizer) isLate(ts time.Duration) bool {
	return s.haveHorizon && ts <= s.horizon
}

func (s *Synchronizer) advanceHorizon(ts time.Duration) {
	if !s.haveHorizon || ts > s.horizon {
		s.horizon = ts
		s.haveHorizon = true
	}
}

// resolveDepthFromBuffer runs when a tick starts. Buffered depth older than the tick belonged to
// a tick that never formed and is discarded; the first correlating frame is attached; anything newer
// stays buffered for a later tick and proves this tick's depth is not coming.
func (s *Synchronizer) resolveDepthFromBuffer() {
	p := s.pending
	ts := p.color.Timestamp
	keep := s.depthBuf[:0]
	for _, d := range s.depthBuf {
		switch {
		case d.Timestamp < ts-s.cfg.Tolerance:
			s.lateDiscarded.Inc()
		case !p.depthResolved && s.correlates(d.Timestamp, ts):
			s.attachDepth(d)
		default:
			if d.Timestamp > ts+s.cfg.Tolerance {
				p.depthResolved = true
			}
			keep = append(keep, d)
		}
	}
	s.depthBuf = keep
}

func (s *Synchronizer) resolveMetadataFromBuffer() {
	p := s.pending
	ts := p.color.Timestamp
	keep := s.metaBuf[:0]
	for _, m := range s.metaBuf {
		switch {
		case m.Timestamp < ts-s.cfg.Tolerance:
			s.lateDiscarded.Inc()
		case !p.metaResolved && s.correlates(m.Timestamp, ts):
			s.attachMetadata(m)
		default:
			if m.Timestamp > ts+s.cfg.Tolerance {
				p.metaResolved = true
			}
			keep = append(keep, m)
		}
	}
	s.metaBuf = keep
}

func (s *Synchronizer) attachDepth(frame capture.RawDepthFrame) {
	p := s.pending
	p.depthResolved = true
	if frame.Dropped() || frame.Depth == nil {
		s.depthDropped.Inc()
		s.logger.Debugw("depth frame dropped, tick has no depth", "ts", frame.Timestamp, "reason", frame.DropReason)
		return
	}
	p.depth = &frame
}

// attachMetadata keeps only the first detection of the set, first wins over highest confidence.
func (s *Synchronizer) attachMetadata(meta capture.RawMetadata) {
	p := s.pending
	p.metaResolved = true
	if meta.Dropped() {
		s.metadataDropped.Inc()
		return
	}
	first, ok := lo.First(meta.Detections)
	if !ok {
		return
	}
	det := s.mapDetection(first, p.color)
	p.detection = &det
}

func (s *Synchronizer) emitIfComplete() {
	p := s.pending
	if p == nil {
		return
	}
	if s.awaitDepth && !p.depthResolved {
		return
	}
	if s.awaitMetadata && !p.metaResolved {
		return
	}
	s.emit()
}

func (s *Synchronizer) emit() {
	p := s.pending
	s.pending = nil
	s.advanceHorizon(p.color.Timestamp)

	tuple := capture.SynchronizedTuple{
		Color:     p.color,
		Depth:     p.depth,
		Detection: p.detection,
	}
	s.ticksEmitted.Inc()

	s.consumersMu.Lock()
	consumers := make([]Consumer, 0, len(s.consumerIDs))
	for _, id := range s.consumerIDs {
		consumers = append(consumers, s.consumers[id])
	}
	s.consumersMu.Unlock()

	for _, c := range consumers {
		c(tuple)
	}
}
