// Package obd decodes raw ELM327 response text into typed OBD-II values.
// Everything in this package is pure: string in, value out, no I/O.
package obd

// Mode 01 ("current data") PIDs polled by the bridge.
const (
	PIDEngineLoad     = 0x04
	PIDCoolantTemp    = 0x05
	PIDSTFTBank1      = 0x06
	PIDLTFTBank1      = 0x07
	PIDSTFTBank2      = 0x08
	PIDLTFTBank2      = 0x09
	PIDIntakeMAP      = 0x0B
	PIDRPM            = 0x0C
	PIDSpeed          = 0x0D
	PIDTimingAdvance  = 0x0E
	PIDIntakeAirTemp  = 0x0F
	PIDMAF            = 0x10
	PIDThrottle       = 0x11
	PIDFuelLevel      = 0x2F
	PIDModuleVoltage  = 0x42
	PIDEngineFuelRate = 0x5E
)

// mode01Reply is the service byte identifying a Mode 01 response.
const mode01Reply = 0x41

// Metric describes one Mode 01 channel: the PID to look for, how many data
// bytes it carries, and the formula turning those bytes into a value.
type Metric struct {
	Name    string
	Command string // 4-hex-digit request, "01" + PID
	pid     byte
	dataLen int
	conv    func(data []byte) float64
}

// Decode extracts this metric's value from a raw adapter response.
// The second return is false when the response does not contain a usable
// Mode 01 payload for this PID, a normal outcome on a noisy bus.
func (m Metric) Decode(resp string) (float64, bool) {
	data := FindMode01(resp, m.pid, m.dataLen)
	if data == nil {
		return 0, false
	}
	return m.conv(data), true
}

// ExtractHexBytes normalizes response text like "41 0C 1A F8", "410C1AF8"
// or "41 0C 1A F8\r\n" into byte values. Characters that are not hex digits
// or spaces are dropped; leftover tokens that are not exactly two hex digits
// are discarded.
func ExtractHexBytes(resp string) []byte {
	filtered := make([]byte, 0, len(resp))
	for i := 0; i < len(resp); i++ {
		c := resp[i]
		switch {
		case hexVal(c) >= 0:
			filtered = append(filtered, c)
		case c == ' ':
			if len(filtered) > 0 && filtered[len(filtered)-1] != ' ' {
				filtered = append(filtered, ' ')
			}
		}
	}
	// Trim a trailing separator left by stripped noise.
	for len(filtered) > 0 && filtered[len(filtered)-1] == ' ' {
		filtered = filtered[:len(filtered)-1]
	}
	if len(filtered) == 0 {
		return nil
	}
	spaced := false
	for _, c := range filtered {
		if c == ' ' {
			spaced = true
			break
		}
	}

	var out []byte
	if spaced {
		start := 0
		for i := 0; i <= len(filtered); i++ {
			if i == len(filtered) || filtered[i] == ' ' {
				if i-start == 2 {
					out = append(out, byte(hexVal(filtered[start])<<4|hexVal(filtered[start+1])))
				}
				start = i + 1
			}
		}
	} else {
		for i := 0; i+1 < len(filtered); i += 2 {
			out = append(out, byte(hexVal(filtered[i])<<4|hexVal(filtered[i+1])))
		}
	}
	return out
}

// FindMode01 scans a response for the marker pair (0x41, pid) and returns
// the dataLen bytes that follow it. The first complete match wins. Returns
// nil when the marker is absent or the payload is short.
func FindMode01(resp string, pid byte, dataLen int) []byte {
	b := ExtractHexBytes(resp)
	if len(b) < 2+dataLen {
		return nil
	}
	for i := 0; i+2+dataLen <= len(b); i++ {
		if b[i] == mode01Reply && b[i+1] == pid {
			return b[i+2 : i+2+dataLen]
		}
	}
	return nil
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// Single-byte conversions.
func convIdentity(d []byte) float64 { return float64(d[0]) }
func convPercent(d []byte) float64  { return float64(d[0]) / 255.0 * 100.0 }
func convTempC(d []byte) float64    { return float64(d[0]) - 40 }
func convFuelTrim(d []byte) float64 { return (float64(d[0]) - 128) / 128.0 * 100.0 }

// Two-byte conversions over (256*A + B).
func convWord(div float64) func([]byte) float64 {
	return func(d []byte) float64 {
		return (float64(d[0])*256 + float64(d[1])) / div
	}
}

func metric(name string, pid byte, dataLen int, conv func([]byte) float64) Metric {
	const hexDigits = "0123456789ABCDEF"
	cmd := "01" + string([]byte{hexDigits[pid>>4], hexDigits[pid&0x0F]})
	return Metric{Name: name, Command: cmd, pid: pid, dataLen: dataLen, conv: conv}
}

// Metric definitions, grouped the way the pollers request them.
var (
	RPM               = metric("rpm", PIDRPM, 2, convWord(4))
	SpeedKPH          = metric("speed_kph", PIDSpeed, 1, convIdentity)
	EngineLoad        = metric("engine_load", PIDEngineLoad, 1, convPercent)
	IntakeManifoldKPA = metric("intake_manifold_pressure", PIDIntakeMAP, 1, convIdentity)
	ThrottlePosition  = metric("throttle_position", PIDThrottle, 1, convPercent)

	CoolantTempC     = metric("coolant_temp", PIDCoolantTemp, 1, convTempC)
	IntakeAirTempC   = metric("intake_air_temp_c", PIDIntakeAirTemp, 1, convTempC)
	TimingAdvanceDeg = metric("timing_advance_deg", PIDTimingAdvance, 1, func(d []byte) float64 {
		return float64(d[0])/2.0 - 64.0
	})

	MAFGramsPerSec = metric("maf_gps", PIDMAF, 2, convWord(100))
	STFTBank1      = metric("short_term_fuel_trim_B1", PIDSTFTBank1, 1, convFuelTrim)
	LTFTBank1      = metric("long_term_fuel_trim_B1", PIDLTFTBank1, 1, convFuelTrim)
	STFTBank2      = metric("short_term_fuel_trim_B2", PIDSTFTBank2, 1, convFuelTrim)
	LTFTBank2      = metric("long_term_fuel_trim_B2", PIDLTFTBank2, 1, convFuelTrim)
	FuelRateLPH    = metric("fuel_rate", PIDEngineFuelRate, 2, convWord(20))

	FuelLevelPct  = metric("fuel_level", PIDFuelLevel, 1, convPercent)
	ModuleVoltage = metric("control_module_voltage", PIDModuleVoltage, 2, convWord(1000))
)
