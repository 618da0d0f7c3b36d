package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/controller"
	"go.viam.com/depthcapture/display"
	"go.viam.com/depthcapture/recording"
)

// intervalRecorder collects the time between consecutive emitted ticks, in milliseconds.
type intervalRecorder struct {
	mu      sync.Mutex
	last    time.Duration
	started bool
	values  []float64
}

func (r *intervalRecorder) observe(tuple capture.SynchronizedTuple) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := tuple.Color.Timestamp
	if r.started {
		r.values = append(r.values, float64(ts-r.last)/float64(time.Millisecond))
	}
	r.last = ts
	r.started = true
}

func (r *intervalRecorder) intervals() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

type summary struct {
	Elapsed      time.Duration
	Stats        controller.Stats
	Result       recording.Result
	FileSize     int64
	TickInterval []float64
	Preview      *display.RendererStats
}

type intervalStats struct {
	mean, p95, stddev, max float64
}

func summarizeIntervals(values []float64) (intervalStats, bool) {
	if len(values) == 0 {
		return intervalStats{}, false
	}
	var out intervalStats
	var err error
	if out.mean, err = stats.Mean(values); err != nil {
		return intervalStats{}, false
	}
	if out.p95, err = stats.Percentile(values, 95); err != nil {
		return intervalStats{}, false
	}
	if out.stddev, err = stats.StandardDeviation(values); err != nil {
		return intervalStats{}, false
	}
	if out.max, err = stats.Max(values); err != nil {
		return intervalStats{}, false
	}
	return out, true
}

func writeSummary(w io.Writer, s summary) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	if s.Elapsed > 0 {
		t.AppendRow(table.Row{"Elapsed", s.Elapsed.Round(time.Millisecond)})
	}

	syncStats := s.Stats.Synchronizer
	t.AppendRows([]table.Row{
		{"Ticks emitted", syncStats.TicksEmitted},
		{"Color frames dropped", syncStats.ColorDropped},
		{"Color frames out of order", syncStats.ColorOutOfOrder},
		{"Depth frames dropped", syncStats.DepthDropped},
		{"Metadata dropped", syncStats.MetadataDropped},
		{"Late frames discarded", syncStats.LateDiscarded},
		{"Pending evictions", syncStats.PendingEvictions},
	})
	if is, ok := summarizeIntervals(s.TickInterval); ok {
		t.AppendRow(table.Row{"Tick interval", fmt.Sprintf(
			"mean %.1fms p95 %.1fms stddev %.1fms max %.1fms", is.mean, is.p95, is.stddev, is.max)})
	}

	if s.Result.Path != "" {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Recording", s.Result.Path},
			{"Session", s.Result.SessionID},
			{"Samples written", s.Result.SamplesAppended},
			{"Samples dropped", s.Result.SamplesDropped},
			{"File size", units.HumanSize(float64(s.FileSize))},
		})
		if s.Result.Err != nil {
			t.AppendRow(table.Row{"Error", s.Result.Err.Error()})
		}
	}

	if s.Preview != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Frames rendered", s.Preview.Rendered},
			{"Redraws superseded", s.Preview.Overwritten},
			{"Redraws without depth", s.Preview.NoDepth},
			{"Render failures", s.Preview.Failed},
		})
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
