// Package navigation tracks the page the rendering surface is currently showing.
package navigation

import "sync/atomic"

// Tracker holds the URL of the most recent main-frame navigation.
// It is safe for concurrent use.
type Tracker struct {
	current atomic.Pointer[string]
}

// NewTracker returns a tracker with no current page.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Set records url as the current page.
func (t *Tracker) Set(url string) {
	t.current.Store(&url)
}

// Current returns the current page URL, or "" before any navigation.
func (t *Tracker) Current() string {
	if p := t.current.Load(); p != nil {
		return *p
	}
	return ""
}
