package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmarinho/obdbridge/internal/telemetry"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	if cfg.Transport.Type != "serial" {
		t.Errorf("transport type = %q, want serial", cfg.Transport.Type)
	}
	if cfg.Transport.BaudRate != 38400 {
		t.Errorf("baud = %d, want 38400", cfg.Transport.BaudRate)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
transport:
  type: demo
  port_path: /dev/ttyUSB0
  baud_rate: 115200
poll:
  live_ms: 250
server:
  listen_addr: ":9090"
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)

	if cfg.Transport.Type != "demo" {
		t.Errorf("transport type = %q, want demo", cfg.Transport.Type)
	}
	if cfg.Transport.PortPath != "/dev/ttyUSB0" {
		t.Errorf("port = %q", cfg.Transport.PortPath)
	}
	if cfg.Transport.BaudRate != 115200 {
		t.Errorf("baud = %d, want 115200", cfg.Transport.BaudRate)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	// Unset poll cadences keep their defaults.
	if cfg.Poll.LiveMs != 250 {
		t.Errorf("live_ms = %d, want 250", cfg.Poll.LiveMs)
	}
	if cfg.Poll.EngineMs != 2000 {
		t.Errorf("engine_ms = %d, want 2000", cfg.Poll.EngineMs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OBD_TRANSPORT", "demo")
	t.Setenv("OBD_PORT", "/dev/rfcomm1")
	t.Setenv("OBD_BAUD", "9600")
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("LOG_ENABLED", "true")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	if cfg.Transport.Type != "demo" {
		t.Errorf("transport type = %q, want demo", cfg.Transport.Type)
	}
	if cfg.Transport.PortPath != "/dev/rfcomm1" {
		t.Errorf("port = %q", cfg.Transport.PortPath)
	}
	if cfg.Transport.BaudRate != 9600 {
		t.Errorf("baud = %d, want 9600", cfg.Transport.BaudRate)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen addr = %q, want :7000", cfg.Server.ListenAddr)
	}
	if !cfg.Logging.Enabled {
		t.Error("logging not enabled by LOG_ENABLED")
	}
}

func TestGroupsApplyCadenceOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Poll.LiveMs = 250
	cfg.Poll.DiagnosticsMs = 0 // zero keeps the default

	var live, diag telemetry.Group
	for _, g := range cfg.Groups() {
		switch g.Name {
		case telemetry.GroupLive:
			live = g
		case telemetry.GroupDiagnostics:
			diag = g
		}
	}

	if live.Interval != 250*time.Millisecond {
		t.Errorf("live interval = %v, want 250ms", live.Interval)
	}
	if diag.Interval != 30*time.Second {
		t.Errorf("diagnostics interval = %v, want default 30s", diag.Interval)
	}
}
