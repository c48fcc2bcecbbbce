package transport

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DemoLink simulates an ELM327 adapter attached to a running engine, for
// development and testing without hardware. It answers the AT init
// sequence, Mode 01 PID requests and Mode 03 DTC reads, and deliberately
// delivers each reply in several chunks the way a real notification link
// does.
type DemoLink struct {
	mu     sync.Mutex
	open   bool
	t      float64 // virtual time accumulator
	dtcs   [][2]byte
	chunks chan []byte
}

// NewDemo creates a demo transport with one stored fault code (P0133,
// O2 sensor slow response) so the diagnostics path has something to show.
func NewDemo() *DemoLink {
	return &DemoLink{
		dtcs:   [][2]byte{{0x01, 0x33}},
		chunks: make(chan []byte, chunkBacklog),
	}
}

func (d *DemoLink) Name() string          { return "Demo (Simulated)" }
func (d *DemoLink) Chunks() <-chan []byte { return d.chunks }

func (d *DemoLink) Connect() error {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	return nil
}

func (d *DemoLink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		d.open = false
		close(d.chunks)
	}
	return nil
}

// Write accepts one command line and schedules its reply.
func (d *DemoLink) Write(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fmt.Errorf("transport: not connected")
	}

	cmd := strings.ToUpper(strings.TrimSpace(string(p)))
	d.t += 0.1
	reply := d.reply(cmd)

	// Deliver asynchronously, split into small chunks, like a real link.
	go d.deliver(reply + "\r\r>")
	return nil
}

func (d *DemoLink) deliver(text string) {
	time.Sleep(5 * time.Millisecond)
	for len(text) > 0 {
		n := 4 + rand.Intn(5)
		if n > len(text) {
			n = len(text)
		}
		chunk := []byte(text[:n])
		text = text[n:]

		// The send stays under the mutex so Close cannot close the channel
		// between the open check and the send. It never blocks, the channel
		// is buffered and full buffers drop.
		d.mu.Lock()
		if !d.open {
			d.mu.Unlock()
			return
		}
		select {
		case d.chunks <- chunk:
		default:
		}
		d.mu.Unlock()
	}
}

func (d *DemoLink) reply(cmd string) string {
	switch {
	case cmd == "ATZ":
		return "ELM327 v1.5"
	case strings.HasPrefix(cmd, "AT"):
		return "OK"
	case cmd == "03":
		return d.dtcReply()
	case len(cmd) == 4 && cmd[:2] == "01":
		return d.pidReply(cmd[2:])
	default:
		return "?"
	}
}

func (d *DemoLink) dtcReply() string {
	if len(d.dtcs) == 0 {
		return "NO DATA"
	}
	parts := []string{"43"}
	for _, pair := range d.dtcs {
		parts = append(parts, fmt.Sprintf("%02X %02X", pair[0], pair[1]))
	}
	// Pad to a full frame the way real adapters do.
	parts = append(parts, "00 00")
	return strings.Join(parts, " ")
}

// pidReply fabricates a Mode 01 response for the requested PID, cycling the
// engine between idle and revving on the virtual clock.
func (d *DemoLink) pidReply(pid string) string {
	throttle := math.Sin(d.t*0.3) * math.Sin(d.t*0.3) // 0..1
	rpm := 850 + 4000*throttle
	speed := throttle * 160

	var data []byte
	switch pid {
	case "04": // engine load
		data = []byte{byte(throttle * 255)}
	case "05": // coolant temp
		data = []byte{byte(88+rand.Intn(5)) + 40}
	case "06", "07", "08", "09": // fuel trims around 0%
		data = []byte{byte(128 + rand.Intn(9) - 4)}
	case "0B": // intake MAP
		data = []byte{byte(30 + throttle*70)}
	case "0C": // rpm, value * 4 over two bytes
		v := uint16(rpm * 4)
		data = []byte{byte(v >> 8), byte(v)}
	case "0D": // speed
		data = []byte{byte(speed)}
	case "0E": // timing advance
		data = []byte{byte((10+throttle*25)*2 + 128)}
	case "0F": // intake air temp
		data = []byte{byte(28+rand.Intn(4)) + 40}
	case "10": // MAF g/s * 100
		v := uint16((2 + throttle*120) * 100)
		data = []byte{byte(v >> 8), byte(v)}
	case "11": // throttle position
		data = []byte{byte(throttle * 255)}
	case "2F": // fuel level, 62% of full scale
		data = []byte{158}
	case "42": // module voltage, mV over two bytes
		v := uint16(13800 + rand.Intn(400))
		data = []byte{byte(v >> 8), byte(v)}
	case "5E": // fuel rate L/h * 20
		v := uint16((0.8 + throttle*18) * 20)
		data = []byte{byte(v >> 8), byte(v)}
	default:
		return "NO DATA"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "41 %s", pid)
	for _, db := range data {
		fmt.Fprintf(&b, " %02X", db)
	}
	return b.String()
}
