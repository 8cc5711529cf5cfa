// Package clock derives gathering status from the deadline and the current time.
package clock

import (
	"sync"
	"time"

	"gathering-service/internal/models"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Manual is a settable clock for tests and replay.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Status returns the effective status of g at now. An active gathering whose
// deadline has passed is expired whether or not that was persisted.
func Status(g models.Gathering, now time.Time) models.Status {
	if g.Status == models.StatusActive && !now.Before(g.Datetime) {
		return models.StatusExpired
	}
	return g.Status
}

// IsActive reports whether g accepts joins and messages at now.
func IsActive(g models.Gathering, now time.Time) bool {
	return Status(g, now) == models.StatusActive
}

// Browsable reports whether g belongs in browse listings at now.
func Browsable(g models.Gathering, now time.Time) bool {
	return g.Status == models.StatusActive && g.Datetime.After(now)
}
