package display

import (
	"context"
	"image"
	"sync"

	"go.uber.org/atomic"

	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/rimage"
	"go.viam.com/depthcapture/utils"
)

// DepthProvider returns the freshest depth map, or false if there is none yet. The renderer
// never modifies the returned map.
type DepthProvider func() (*rimage.DepthMap, bool)

// RendererOptions configure a Renderer.
type RendererOptions struct {
	Depth   DepthProvider
	Toggles *Toggles
	Display Display
	// Transformer defaults to rimage.DefaultDepthTransformer.
	Transformer rimage.DepthTransformer
}

// RendererStats are running counters.
type RendererStats struct {
	Requested   uint64
	Rendered    uint64
	Overwritten uint64
	NoDepth     uint64
	Failed      uint64
}

type renderJob struct {
	depth   *rimage.DepthMap
	size    image.Point
	toggles ToggleSnapshot
}

// jobSlot is a single-slot mailbox: a new job replaces one the worker has not picked up yet.
type jobSlot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	job    *renderJob
	closed bool
}

func newJobSlot() *jobSlot {
	s := &jobSlot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// put stores job and reports whether an unconsumed job was overwritten.
func (s *jobSlot) put(job *renderJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	overwritten := s.job != nil
	s.job = job
	s.cond.Signal()
	return overwritten
}

// take blocks until a job is available or the slot is closed, in which case it returns nil.
func (s *jobSlot) take() *renderJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.job == nil && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil
	}
	job := s.job
	s.job = nil
	return job
}

func (s *jobSlot) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// A Renderer turns redraw requests into rendered frames on a dedicated worker. Requests never
// queue: a redraw that arrives while the worker is busy replaces any redraw still waiting, so the
// display always shows the freshest depth.
type Renderer struct {
	opts    RendererOptions
	logger  logging.Logger
	slot    *jobSlot
	workers utils.StoppableWorkers

	requested   atomic.Uint64
	rendered    atomic.Uint64
	overwritten atomic.Uint64
	noDepth     atomic.Uint64
	failed      atomic.Uint64
}

// NewRenderer starts the render worker.
func NewRenderer(opts RendererOptions, logger logging.Logger) *Renderer {
	if opts.Transformer == nil {
		opts.Transformer = rimage.DefaultDepthTransformer
	}
	if opts.Toggles == nil {
		opts.Toggles = NewToggles(ToggleSnapshot{})
	}
	r := &Renderer{opts: opts, logger: logger, slot: newJobSlot()}
	r.workers = utils.NewStoppableWorkers(r.run)
	return r
}

// Toggles returns the toggles the renderer samples.
func (r *Renderer) Toggles() *Toggles {
	return r.opts.Toggles
}

// Redraw requests a frame at size. The toggles are sampled now, on the caller's goroutine.
func (r *Renderer) Redraw(size image.Point) {
	r.requested.Inc()
	toggles := r.opts.Toggles.Snapshot()
	depth, ok := r.opts.Depth()
	if !ok || depth == nil {
		r.noDepth.Inc()
		return
	}
	if r.slot.put(&renderJob{depth: depth, size: size, toggles: toggles}) {
		r.overwritten.Inc()
	}
}

func (r *Renderer) run(ctx context.Context) {
	for {
		job := r.slot.take()
		if job == nil {
			return
		}
		img := r.opts.Transformer.Transform(job.depth, job.size, job.toggles.UseDisparity, job.toggles.Equalize)
		if err := r.opts.Display.Show(img, job.size); err != nil {
			r.failed.Inc()
			r.logger.Warnw("cannot show depth frame", "error", err)
			continue
		}
		r.rendered.Inc()
	}
}

// Stats returns the renderer's counters.
func (r *Renderer) Stats() RendererStats {
	return RendererStats{
		Requested:   r.requested.Load(),
		Rendered:    r.rendered.Load(),
		Overwritten: r.overwritten.Load(),
		NoDepth:     r.noDepth.Load(),
		Failed:      r.failed.Load(),
	}
}

// Close stops the worker. A job in progress finishes; a waiting one is discarded.
func (r *Renderer) Close() {
	r.slot.close()
	r.workers.Stop()
}
