package recording

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcapture/logging"
)

// ffmpegQueueDepth is how many samples may wait for the encoder before the sink reports that it
// is not ready for more.
const ffmpegQueueDepth = 4

type encodedFrame struct {
	pix []byte
	pts time.Duration
}

// ffmpegSink pipes raw gray frames into an ffmpeg process that encodes them into the container
// at path. The input is constant frame rate, so the writer goroutine places each sample in its
// frame slot by PTS and repeats the previous frame over gaps.
type ffmpegSink struct {
	settings Settings
	logger   logging.Logger

	frames   chan encodedFrame
	pw       *io.PipeWriter
	cancel   func()
	stderr   bytes.Buffer
	runErr   atomic.Error
	interval time.Duration

	// serialized context only
	start      time.Duration
	started    bool
	finishOnce sync.Once

	activeBackgroundWorkers sync.WaitGroup
}

// NewFFmpegSinkFactory returns a SinkFactory that encodes with the ffmpeg binary on PATH.
func NewFFmpegSinkFactory(logger logging.Logger) SinkFactory {
	return func(path string, settings Settings) (Sink, error) {
		return newFFmpegSink(path, settings, logger)
	}
}

func newFFmpegSink(path string, settings Settings, logger logging.Logger) (*ffmpegSink, error) {
	// make sure ffmpeg is in the path before doing anything else
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrap(err, "ffmpeg is required for recording")
	}
	if settings.FrameRate <= 0 {
		return nil, errors.Errorf("invalid frame rate %v", settings.FrameRate)
	}

	inArgs := map[string]interface{}{
		"format":    "rawvideo",
		"pix_fmt":   "gray",
		"s":         fmt.Sprintf("%dx%d", settings.Width, settings.Height),
		"framerate": settings.FrameRate,
	}
	outArgs := map[string]interface{}{
		"c:v":      settings.Codec,
		"pix_fmt":  "yuv420p",
		"b:v":      fmt.Sprintf("%dk", settings.BitrateKbps),
		"movflags": "+faststart",
	}

	cancelableCtx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	s := &ffmpegSink{
		settings: settings,
		logger:   logger,
		frames:   make(chan encodedFrame, ffmpegQueueDepth),
		pw:       pw,
		cancel:   cancel,
		interval: time.Duration(float64(time.Second) / settings.FrameRate),
	}

	// run ffmpeg reading raw frames from the pipe
	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		stream := ffmpeg.Input("pipe:", inArgs).
			Output(path, outArgs).
			OverWriteOutput().
			WithInput(pr).
			WithErrorOutput(&s.stderr)
		stream.Context = cancelableCtx
		if err := stream.Run(); err != nil {
			s.runErr.Store(errors.Wrapf(err, "ffmpeg: %s", lastLine(s.stderr.Bytes())))
		}
		// unblock the frame writer if ffmpeg went away early
		goutils.UncheckedError(pr.CloseWithError(io.ErrClosedPipe))
	}, s.activeBackgroundWorkers.Done)

	// feed queued frames into the pipe
	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(s.writeFrames, s.activeBackgroundWorkers.Done)

	return s, nil
}

func (s *ffmpegSink) writeFrames() {
	defer func() {
		goutils.UncheckedError(s.pw.Close())
	}()
	var (
		next int64
		last []byte
	)
	for f := range s.frames {
		if s.runErr.Load() != nil {
			continue
		}
		slot := int64((f.pts + s.interval/2) / s.interval)
		if slot < next {
			// two samples landed in the same slot; the first one wins
			continue
		}
		for ; next < slot && last != nil; next++ {
			if _, err := s.pw.Write(last); err != nil {
				s.runErr.CompareAndSwap(nil, err)
				break
			}
		}
		if _, err := s.pw.Write(f.pix); err != nil {
			s.runErr.CompareAndSwap(nil, err)
			continue
		}
		next = slot + 1
		last = f.pix
	}
}

func (s *ffmpegSink) StartSession(at time.Duration) error {
	if s.started {
		return errors.New("session already started")
	}
	if err := s.runErr.Load(); err != nil {
		return err
	}
	s.start = at
	s.started = true
	return nil
}

func (s *ffmpegSink) ReadyForMoreData() bool {
	return s.runErr.Load() == nil && len(s.frames) < cap(s.frames)
}

func (s *ffmpegSink) Append(sample Sample) error {
	if !s.started {
		return errors.New("append before session start")
	}
	if err := s.runErr.Load(); err != nil {
		return err
	}
	if sample.PTS < s.start {
		// nothing can be placed before the first frame
		return nil
	}
	size := sample.Image.Bounds().Size()
	if size.X != s.settings.Width || size.Y != s.settings.Height {
		return errors.Errorf("sample is %v, want %dx%d", size, s.settings.Width, s.settings.Height)
	}
	pix := make([]byte, 0, size.X*size.Y)
	for y := 0; y < size.Y; y++ {
		off := y * sample.Image.Stride
		pix = append(pix, sample.Image.Pix[off:off+size.X]...)
	}
	select {
	case s.frames <- encodedFrame{pix: pix, pts: sample.PTS - s.start}:
		return nil
	default:
		return errors.New("ffmpeg sink queue is full")
	}
}

func (s *ffmpegSink) Finish(done func(error)) {
	s.finishOnce.Do(func() {
		close(s.frames)
		goutils.PanicCapturingGo(func() {
			s.activeBackgroundWorkers.Wait()
			s.cancel()
			err := s.runErr.Load()
			if err == nil && !s.started {
				err = errors.New("recording has no frames")
			}
			done(err)
		})
	})
}

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}
