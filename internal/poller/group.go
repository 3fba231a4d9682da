package poller

import (
	"context"
	"time"
)

// Group starts and stops a set of schedulers together.
type Group struct {
	schedulers []*Scheduler
}

// NewGroup returns a group over schedulers.
func NewGroup(schedulers ...*Scheduler) *Group {
	return &Group{schedulers: schedulers}
}

// Add appends a scheduler to the group.
func (g *Group) Add(s *Scheduler) {
	g.schedulers = append(g.schedulers, s)
}

// Schedulers returns the group members in insertion order.
func (g *Group) Schedulers() []*Scheduler {
	out := make([]*Scheduler, len(g.schedulers))
	copy(out, g.schedulers)
	return out
}

// StartAll starts every scheduler. On error the schedulers already started
// are left running; callers stop the group.
func (g *Group) StartAll(ctx context.Context) error {
	for _, s := range g.schedulers {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll signals every scheduler first and then waits for each within a
// shared deadline. It returns the devices whose loops did not exit in time.
func (g *Group) StopAll(timeout time.Duration) []string {
	for _, s := range g.schedulers {
		s.RequestStop()
	}

	deadline := time.Now().Add(timeout)
	var stuck []string
	for _, s := range g.schedulers {
		if !s.Wait(time.Until(deadline)) {
			stuck = append(stuck, s.Device())
		}
	}
	return stuck
}
