package display

import "go.uber.org/atomic"

// Toggles are the user-controlled display switches. They may be flipped from any goroutine.
type Toggles struct {
	filterEnabled atomic.Bool
	useDisparity  atomic.Bool
	equalize      atomic.Bool
}

// ToggleSnapshot is the value of every toggle at one instant.
type ToggleSnapshot struct {
	FilterEnabled bool
	UseDisparity  bool
	Equalize      bool
}

// NewToggles returns toggles set to snap.
func NewToggles(snap ToggleSnapshot) *Toggles {
	t := &Toggles{}
	t.Apply(snap)
	return t
}

// Apply sets every toggle.
func (t *Toggles) Apply(snap ToggleSnapshot) {
	t.filterEnabled.Store(snap.FilterEnabled)
	t.useDisparity.Store(snap.UseDisparity)
	t.equalize.Store(snap.Equalize)
}

// SetFilterEnabled sets the depth hole-filling toggle.
func (t *Toggles) SetFilterEnabled(v bool) { t.filterEnabled.Store(v) }

// SetUseDisparity sets the disparity toggle.
func (t *Toggles) SetUseDisparity(v bool) { t.useDisparity.Store(v) }

// SetEqualize sets the histogram equalization toggle.
func (t *Toggles) SetEqualize(v bool) { t.equalize.Store(v) }

// Snapshot reads every toggle. Take it on the UI side before handing work to another goroutine
// so the frame is rendered with the toggles that were set when it was requested.
func (t *Toggles) Snapshot() ToggleSnapshot {
	return ToggleSnapshot{
		FilterEnabled: t.filterEnabled.Load(),
		UseDisparity:  t.useDisparity.Load(),
		Equalize:      t.equalize.Load(),
	}
}
