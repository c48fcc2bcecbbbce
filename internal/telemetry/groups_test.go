package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeExec answers commands from a fixed table; unknown commands time out
// (empty string), which is what the command channel reports.
type fakeExec struct {
	mu      sync.Mutex
	replies map[string]string
	sent    []string
}

func (f *fakeExec) Execute(ctx context.Context, cmd string, timeout time.Duration) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return f.replies[cmd]
}

func groupByName(t *testing.T, name string) Group {
	t.Helper()
	for _, g := range DefaultGroups() {
		if g.Name == name {
			return g
		}
	}
	t.Fatalf("no group %q", name)
	return Group{}
}

func TestCaptureDecodesEachMetricIndependently(t *testing.T) {
	exec := &fakeExec{replies: map[string]string{
		"010C": "41 0C 1A F8", // rpm 1726
		"010D": "41 0D 32",    // speed 50
		// 0104, 010B, 0111 unanswered
	}}
	g := groupByName(t, GroupLive)

	snap := g.capture(context.Background(), exec)

	if v := snap.Values["rpm"]; v == nil || *v != 1726 {
		t.Fatalf("rpm = %v, want 1726", v)
	}
	if v := snap.Values["speed_kph"]; v == nil || *v != 50 {
		t.Fatalf("speed_kph = %v, want 50", v)
	}
	for _, name := range []string{"engine_load", "intake_manifold_pressure", "throttle_position"} {
		v, present := snap.Values[name]
		if !present {
			t.Fatalf("%s missing from snapshot", name)
		}
		if v != nil {
			t.Fatalf("%s = %v, want nil for unanswered command", name, *v)
		}
	}
	if snap.DTCs != nil {
		t.Fatalf("metric group produced DTCs: %v", snap.DTCs)
	}
}

func TestCaptureIssuesEveryGroupCommand(t *testing.T) {
	exec := &fakeExec{replies: map[string]string{}}
	g := groupByName(t, GroupFuelAir)

	g.capture(context.Background(), exec)

	if len(exec.sent) != len(g.Metrics) {
		t.Fatalf("sent %d commands %v, want %d", len(exec.sent), exec.sent, len(g.Metrics))
	}
	for i, m := range g.Metrics {
		if exec.sent[i] != m.Command {
			t.Fatalf("command %d = %q, want %q", i, exec.sent[i], m.Command)
		}
	}
}

func TestCaptureDiagnostics(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"stored codes", "43 01 33 04 20 00 00", []string{"P0133", "P0420"}},
		{"no codes", "43 00 00 00 00", []string{}},
		{"no data banner", "NO DATA", []string{}},
		{"timeout", "", []string{}},
	}
	g := groupByName(t, GroupDiagnostics)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExec{replies: map[string]string{DTCCommand: tt.reply}}
			snap := g.capture(context.Background(), exec)

			if snap.DTCs == nil {
				t.Fatal("diagnostics snapshot has nil code list")
			}
			if len(snap.DTCs) != len(tt.want) {
				t.Fatalf("DTCs = %v, want %v", snap.DTCs, tt.want)
			}
			for i := range tt.want {
				if snap.DTCs[i] != tt.want[i] {
					t.Fatalf("DTCs = %v, want %v", snap.DTCs, tt.want)
				}
			}
			if snap.Values != nil {
				t.Fatalf("diagnostics group produced metric values: %v", snap.Values)
			}
		})
	}
}

func TestDefaultGroupsCoverEveryName(t *testing.T) {
	want := map[string]bool{
		GroupLive: false, GroupEngine: false, GroupFuelAir: false,
		GroupStatus: false, GroupDiagnostics: false,
	}
	for _, g := range DefaultGroups() {
		if _, ok := want[g.Name]; !ok {
			t.Fatalf("unexpected group %q", g.Name)
		}
		want[g.Name] = true
		if g.Interval <= 0 || g.Timeout <= 0 {
			t.Fatalf("group %q has zero cadence or timeout", g.Name)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("group %q missing from defaults", name)
		}
	}
}
