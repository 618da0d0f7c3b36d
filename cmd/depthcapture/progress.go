package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"go.viam.com/depthcapture/controller"
	"go.viam.com/depthcapture/recording"
)

// progressInterval is how often the spinner text is refreshed.
const progressInterval = 250 * time.Millisecond

type progressSpinner interface {
	Success(...any)
	Fail(...any)
	UpdateText(string)
}

type progressSpinnerFactory func(string) (progressSpinner, error)

var defaultSpinnerFactory progressSpinnerFactory = func(text string) (progressSpinner, error) {
	spinner, err := pterm.DefaultSpinner.
		WithRemoveWhenDone(false).
		WithText(text).
		Start()
	if err != nil {
		return nil, err
	}
	return spinner, nil
}

// recordProgress shows live counters of a recording on a spinner.
type recordProgress struct {
	spinner progressSpinner
	stats   func() controller.Stats
	start   time.Time
}

func startRecordProgress(factory progressSpinnerFactory, path string, stats func() controller.Stats) (*recordProgress, error) {
	spinner, err := factory(fmt.Sprintf("recording %s", path))
	if err != nil {
		return nil, err
	}
	return &recordProgress{spinner: spinner, stats: stats, start: time.Now()}, nil
}

func (p *recordProgress) text() string {
	st := p.stats()
	return fmt.Sprintf("recording %s: %d ticks, %d samples, %d dropped",
		time.Since(p.start).Round(100*time.Millisecond),
		st.Synchronizer.TicksEmitted,
		st.Recording.SamplesAppended,
		st.Recording.SamplesDropped)
}

// run refreshes the spinner until ctx is done.
func (p *recordProgress) run(ctx context.Context) error {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.spinner.UpdateText(p.text())
		}
	}
}

// finish stops the spinner with the outcome of the recording.
func (p *recordProgress) finish(res recording.Result) {
	if res.Err != nil {
		p.spinner.Fail(fmt.Sprintf("recording failed: %v", res.Err))
		return
	}
	p.spinner.Success(fmt.Sprintf("recorded %d samples to %s", res.SamplesAppended, res.Path))
}
