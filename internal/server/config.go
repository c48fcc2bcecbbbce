package server

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmarinho/obdbridge/internal/logger"
	"github.com/dmarinho/obdbridge/internal/telemetry"
	"github.com/dmarinho/obdbridge/internal/transport"
	"gopkg.in/yaml.v3"
)

// Config holds all bridge configuration.
type Config struct {
	mu sync.RWMutex

	// Adapter link
	Transport TransportConfig `yaml:"transport" json:"transport"`

	// Per-group polling cadence
	Poll PollConfig `yaml:"poll" json:"poll"`

	// CSV telemetry logging
	Logging logger.Config `yaml:"logging" json:"logging"`

	// HTTP/WebSocket surface
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type TransportConfig struct {
	Type     string `yaml:"type" json:"type"`          // "serial" or "demo"
	PortPath string `yaml:"port_path" json:"portPath"` // e.g. /dev/rfcomm0
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

type PollConfig struct {
	LiveMs        int `yaml:"live_ms" json:"liveMs"`
	EngineMs      int `yaml:"engine_ms" json:"engineMs"`
	FuelAirMs     int `yaml:"fuel_air_ms" json:"fuelAirMs"`
	StatusMs      int `yaml:"status_ms" json:"statusMs"`
	DiagnosticsMs int `yaml:"diagnostics_ms" json:"diagnosticsMs"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Type:     "serial",
			PortPath: "/dev/rfcomm0",
			BaudRate: 38400,
		},
		Poll: PollConfig{
			LiveMs:        500,
			EngineMs:      2000,
			FuelAirMs:     2000,
			StatusMs:      10000,
			DiagnosticsMs: 30000,
		},
		Logging: logger.Config{
			Enabled:    false,
			Path:       "/var/log/obdbridge",
			IntervalMs: 500,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env from the config's directory, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: OBD_TRANSPORT, OBD_PORT, OBD_BAUD, LISTEN_ADDR,
// LOG_ENABLED, LOG_PATH, LOG_INTERVAL_MS.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OBD_TRANSPORT"); v != "" {
		c.Transport.Type = v
	}
	if v := os.Getenv("OBD_PORT"); v != "" {
		c.Transport.PortPath = v
	}
	if v := os.Getenv("OBD_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transport.BaudRate = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.IntervalMs = n
		}
	}
}

// SerialConfig builds the serial transport configuration.
func (c *Config) SerialConfig() transport.SerialConfig {
	return transport.SerialConfig{
		PortPath: c.Transport.PortPath,
		BaudRate: c.Transport.BaudRate,
	}
}

// Groups returns the default metric groups with configured cadences
// applied. A zero or negative interval keeps the group's default.
func (c *Config) Groups() []telemetry.Group {
	overrides := map[string]int{
		telemetry.GroupLive:        c.Poll.LiveMs,
		telemetry.GroupEngine:      c.Poll.EngineMs,
		telemetry.GroupFuelAir:     c.Poll.FuelAirMs,
		telemetry.GroupStatus:      c.Poll.StatusMs,
		telemetry.GroupDiagnostics: c.Poll.DiagnosticsMs,
	}
	groups := telemetry.DefaultGroups()
	for i := range groups {
		if ms := overrides[groups[i].Name]; ms > 0 {
			groups[i].Interval = time.Duration(ms) * time.Millisecond
		}
	}
	return groups
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}
