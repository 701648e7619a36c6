// Package window provides acquisition-window routing: mapping capture
// timestamps to the flood or reference purpose they were queried for.
package window

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/floodscope/acquirer/internal/scene"
)

// ErrNoMatchingWindow is returned when a timestamp doesn't fall inside
// any configured acquisition window.
var ErrNoMatchingWindow = errors.New("no matching acquisition window")

// ErrOverlappingWindows is returned when window boundaries overlap.
var ErrOverlappingWindows = errors.New("acquisition windows overlap")

// Window defines one acquisition window.
type Window struct {
	Purpose scene.Purpose `yaml:"purpose"`
	Start   time.Time     `yaml:"start"`
	End     time.Time     `yaml:"end"`
}

// Contains returns true if t falls within the window (inclusive bounds).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Router routes capture timestamps to their acquisition window.
type Router struct {
	windows []Window
}

// NewRouter creates a router over the given windows. Windows are sorted
// by start time and validated for overlap: the flood and reference
// periods must be disjoint so a scene's purpose is unambiguous.
func NewRouter(windows []Window) (*Router, error) {
	if len(windows) == 0 {
		return nil, errors.New("at least one acquisition window must be configured")
	}

	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	for i := 0; i < len(sorted)-1; i++ {
		current, next := sorted[i], sorted[i+1]
		if !current.End.Before(next.Start) {
			return nil, fmt.Errorf("%w: %s window ends %s but %s window starts %s",
				ErrOverlappingWindows, current.Purpose, current.End.Format(time.RFC3339),
				next.Purpose, next.Start.Format(time.RFC3339))
		}
	}

	return &Router{windows: sorted}, nil
}

// Route returns the window containing the given capture timestamp.
func (r *Router) Route(t time.Time) (*Window, error) {
	for i := range r.windows {
		if r.windows[i].Contains(t) {
			return &r.windows[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMatchingWindow, t.Format(time.RFC3339))
}

// Windows returns the validated windows in start order.
func (r *Router) Windows() []Window {
	return r.windows
}
