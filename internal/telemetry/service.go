package telemetry

import (
	"context"
	"log"
	"time"
)

// Recorder receives every published snapshot, for telemetry logging.
type Recorder interface {
	Record(group string, snap Snapshot)
}

// Service owns the pollers and is the query boundary for the HTTP layer:
// snapshots out of the store, plus on-demand diagnostic refresh through the
// command channel. One Service exists per adapter connection; it is created
// at startup and torn down by cancelling the context passed to Start.
type Service struct {
	exec   Executor
	store  *Store
	hub    *Hub
	groups []Group
	rec    Recorder

	diagnostics Group
}

func NewService(exec Executor, store *Store, hub *Hub, groups []Group) *Service {
	s := &Service{exec: exec, store: store, hub: hub, groups: groups}
	for _, g := range groups {
		if g.Diagnostics {
			s.diagnostics = g
		}
	}
	if s.diagnostics.Name == "" {
		// Not polled periodically, but still reachable on demand.
		for _, g := range DefaultGroups() {
			if g.Diagnostics {
				s.diagnostics = g
			}
		}
	}
	return s
}

// SetRecorder attaches an optional recorder fed with every published
// snapshot. Must be called before Start.
func (s *Service) SetRecorder(rec Recorder) { s.rec = rec }

// Start launches one poller goroutine per group. They stop when ctx is
// cancelled; an in-flight command is abandoned to its timeout.
func (s *Service) Start(ctx context.Context) {
	for _, g := range s.groups {
		go s.poll(ctx, g)
	}
	log.Printf("[telemetry] started %d group pollers", len(s.groups))
}

func (s *Service) poll(ctx context.Context, g Group) {
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	for {
		s.pollOnce(ctx, g)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce runs a single iteration. A fault anywhere inside one cycle is
// contained here so the loop keeps its cadence.
func (s *Service) pollOnce(ctx context.Context, g Group) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[telemetry] %s poll iteration panic: %v", g.Name, r)
		}
	}()

	snap := g.capture(ctx, s.exec)
	if ctx.Err() != nil {
		return // shutting down, don't publish a truncated capture
	}
	s.store.Put(g.Name, snap)
	s.hub.Publish(g.Name, snap)
	if s.rec != nil {
		s.rec.Record(g.Name, snap)
	}
}

// Snapshot returns the latest snapshot of every group.
func (s *Service) Snapshot() map[string]Snapshot {
	return s.store.All()
}

// Latest returns one group's latest snapshot.
func (s *Service) Latest(group string) (Snapshot, bool) {
	return s.store.Latest(group)
}

// RefreshDiagnostics forces an out-of-cadence stored-code read through the
// command channel and publishes the result like a normal poll.
func (s *Service) RefreshDiagnostics(ctx context.Context) Snapshot {
	snap := s.diagnostics.capture(ctx, s.exec)
	s.store.Put(s.diagnostics.Name, snap)
	s.hub.Publish(s.diagnostics.Name, snap)
	if s.rec != nil {
		s.rec.Record(s.diagnostics.Name, snap)
	}
	return snap
}
