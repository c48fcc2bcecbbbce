package telemetry

import (
	"context"
	"time"

	"github.com/dmarinho/obdbridge/internal/obd"
)

// Executor is anything that can be asked to run one adapter command and
// return its response text within a deadline. The elm command channel is
// the production implementation.
type Executor interface {
	Execute(ctx context.Context, cmd string, timeout time.Duration) string
}

// Group names.
const (
	GroupLive        = "live"
	GroupEngine      = "engine"
	GroupFuelAir     = "fuel_air"
	GroupStatus      = "status"
	GroupDiagnostics = "diagnostics"
)

// DTCCommand requests stored trouble codes (Mode 03).
const DTCCommand = "03"

// Group is one metric group: a fixed command sequence issued on its own
// cadence. Diagnostics groups decode trouble codes instead of metrics.
type Group struct {
	Name        string
	Interval    time.Duration
	Timeout     time.Duration // per-command deadline
	Metrics     []obd.Metric
	Diagnostics bool
}

// DefaultGroups returns the five polled groups with their default cadences.
func DefaultGroups() []Group {
	return []Group{
		{
			Name:     GroupLive,
			Interval: 500 * time.Millisecond,
			Timeout:  2 * time.Second,
			Metrics: []obd.Metric{
				obd.RPM, obd.SpeedKPH, obd.EngineLoad,
				obd.IntakeManifoldKPA, obd.ThrottlePosition,
			},
		},
		{
			Name:     GroupEngine,
			Interval: 2 * time.Second,
			Timeout:  2 * time.Second,
			Metrics: []obd.Metric{
				obd.CoolantTempC, obd.IntakeAirTempC, obd.TimingAdvanceDeg,
			},
		},
		{
			Name:     GroupFuelAir,
			Interval: 2 * time.Second,
			Timeout:  2 * time.Second,
			Metrics: []obd.Metric{
				obd.MAFGramsPerSec,
				obd.STFTBank1, obd.LTFTBank1, obd.STFTBank2, obd.LTFTBank2,
				obd.FuelRateLPH,
			},
		},
		{
			Name:     GroupStatus,
			Interval: 10 * time.Second,
			Timeout:  2 * time.Second,
			Metrics: []obd.Metric{
				obd.FuelLevelPct, obd.ModuleVoltage,
			},
		},
		{
			Name:        GroupDiagnostics,
			Interval:    30 * time.Second,
			Timeout:     5 * time.Second, // Mode 03 is slower than PID reads
			Diagnostics: true,
		},
	}
}

// capture runs the group's command sequence and assembles a snapshot. Each
// field decodes independently: one bad response degrades that field to
// absent and the rest of the snapshot stands.
func (g Group) capture(ctx context.Context, exec Executor) Snapshot {
	if g.Diagnostics {
		return g.captureDiagnostics(ctx, exec)
	}

	snap := newSnapshot()
	snap.Values = make(map[string]*float64, len(g.Metrics))
	for _, m := range g.Metrics {
		resp := exec.Execute(ctx, m.Command, g.Timeout)
		if v, ok := m.Decode(resp); ok {
			v := v
			snap.Values[m.Name] = &v
		} else {
			snap.Values[m.Name] = nil
		}
	}
	return snap
}

// captureDiagnostics reads stored trouble codes. Codes are recomputed fresh
// on every read; a timeout or adapter error banner yields an empty list,
// never a failure.
func (g Group) captureDiagnostics(ctx context.Context, exec Executor) Snapshot {
	snap := newSnapshot()
	snap.DTCs = []string{}

	resp := exec.Execute(ctx, DTCCommand, g.Timeout)
	if resp == "" || obd.AdapterRefused(resp) {
		return snap
	}
	if codes := obd.ParseDTCs(resp); codes != nil {
		snap.DTCs = codes
	}
	return snap
}
