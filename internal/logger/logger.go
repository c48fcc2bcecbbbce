// Package logger records timestamped telemetry snapshots to CSV files with
// automatic rotation. It is an operator convenience, not a query store.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmarinho/obdbridge/internal/telemetry"
)

// Logger accumulates the latest value per metric across group updates and
// writes merged rows at a fixed minimum interval.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	latest map[string]*float64
	dtcs   []string

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // rotate after 100k rows
)

var csvHeader = []string{
	"timestamp",
	"rpm", "speed_kph", "engine_load", "intake_manifold_pressure", "throttle_position",
	"coolant_temp", "intake_air_temp_c", "timing_advance_deg",
	"maf_gps",
	"short_term_fuel_trim_B1", "long_term_fuel_trim_B1",
	"short_term_fuel_trim_B2", "long_term_fuel_trim_B2",
	"fuel_rate",
	"fuel_level", "control_module_voltage",
	"dtcs",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/obdbridge"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 100*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		latest:   make(map[string]*float64),
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record merges one group update and writes a row if the minimum interval
// has elapsed since the last one.
func (l *Logger) Record(group string, snap telemetry.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	for name, v := range snap.Values {
		l.latest[name] = v
	}
	if snap.DTCs != nil {
		l.dtcs = snap.DTCs
	}

	now := time.Now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(l.buildRow(now)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("obdbridge_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) buildRow(ts time.Time) []string {
	row := make([]string, len(csvHeader))
	row[0] = ts.Format(time.RFC3339Nano)

	for i, name := range csvHeader[1 : len(csvHeader)-1] {
		if v := l.latest[name]; v != nil {
			row[i+1] = fmt.Sprintf("%.2f", *v)
		}
	}
	row[len(row)-1] = strings.Join(l.dtcs, ";")
	return row
}
