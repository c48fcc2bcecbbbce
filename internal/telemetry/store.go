// Package telemetry drives the command channel: per-group pollers, the
// latest-value snapshot store, and the broadcast hub that fans updates out
// to subscribers.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"
)

// Snapshot is one group's latest capture. Metric groups fill Values, the
// diagnostics group fills DTCs. A nil value means the metric was absent
// this cycle (decode failure or command timeout) and serializes to null.
type Snapshot struct {
	TS     int64
	Values map[string]*float64
	DTCs   []string
}

// MarshalJSON emits only the fields the group kind uses, so metric
// snapshots carry no dtcs key and diagnostics snapshots no values key.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"ts": s.TS}
	if s.Values != nil {
		out["values"] = s.Values
	}
	if s.DTCs != nil {
		out["dtcs"] = s.DTCs
	}
	return json.Marshal(out)
}

func newSnapshot() Snapshot {
	return Snapshot{TS: time.Now().UnixMilli()}
}

// Store holds the latest snapshot per group. Each slot is written by
// exactly one poller and replaced wholesale, so readers always see an
// internally consistent group; cross-group consistency is not promised.
type Store struct {
	mu     sync.RWMutex
	groups map[string]Snapshot
}

func NewStore() *Store {
	return &Store{groups: make(map[string]Snapshot)}
}

// Put replaces a group's snapshot.
func (s *Store) Put(group string, snap Snapshot) {
	s.mu.Lock()
	s.groups[group] = snap
	s.mu.Unlock()
}

// Latest returns a group's current snapshot.
func (s *Store) Latest(group string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.groups[group]
	return snap, ok
}

// All returns a copy of every group's latest snapshot.
func (s *Store) All() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot, len(s.groups))
	for name, snap := range s.groups {
		out[name] = snap
	}
	return out
}
