// Package dtcdb maps diagnostic trouble codes to human descriptions. The
// table covers the generic SAE codes commonly seen on consumer vehicles;
// unknown codes fall back to a family description derived from the prefix.
package dtcdb

import "strings"

var descriptions = map[string]string{
	// Powertrain
	"P0100": "Mass Air Flow Circuit Malfunction",
	"P0101": "Mass Air Flow Circuit Range/Performance",
	"P0102": "Mass Air Flow Circuit Low Input",
	"P0103": "Mass Air Flow Circuit High Input",
	"P0110": "Intake Air Temperature Circuit Malfunction",
	"P0115": "Engine Coolant Temperature Circuit Malfunction",
	"P0120": "Throttle Position Sensor Circuit Malfunction",
	"P0128": "Coolant Thermostat Below Regulating Temperature",
	"P0130": "O2 Sensor Circuit Malfunction (Bank 1 Sensor 1)",
	"P0133": "O2 Sensor Circuit Slow Response (Bank 1 Sensor 1)",
	"P0135": "O2 Sensor Heater Circuit Malfunction (Bank 1 Sensor 1)",
	"P0171": "System Too Lean (Bank 1)",
	"P0172": "System Too Rich (Bank 1)",
	"P0174": "System Too Lean (Bank 2)",
	"P0175": "System Too Rich (Bank 2)",
	"P0200": "Injector Circuit Malfunction",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0302": "Cylinder 2 Misfire Detected",
	"P0303": "Cylinder 3 Misfire Detected",
	"P0304": "Cylinder 4 Misfire Detected",
	"P0325": "Knock Sensor 1 Circuit Malfunction",
	"P0335": "Crankshaft Position Sensor Circuit Malfunction",
	"P0340": "Camshaft Position Sensor Circuit Malfunction",
	"P0401": "Exhaust Gas Recirculation Flow Insufficient",
	"P0402": "Exhaust Gas Recirculation Flow Excessive",
	"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"P0430": "Catalyst System Efficiency Below Threshold (Bank 2)",
	"P0440": "Evaporative Emission Control System Malfunction",
	"P0442": "Evaporative Emission System Leak Detected (Small)",
	"P0455": "Evaporative Emission System Leak Detected (Large)",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P0505": "Idle Control System Malfunction",
	"P0506": "Idle Control System RPM Lower Than Expected",
	"P0507": "Idle Control System RPM Higher Than Expected",
	"P0562": "System Voltage Low",
	"P0563": "System Voltage High",

	// Chassis
	"C0035": "Left Front Wheel Speed Sensor Circuit",
	"C0040": "Right Front Wheel Speed Sensor Circuit",
	"C1201": "ABS/TCS Control System Malfunction",

	// Body
	"B1000": "Body Control Module Malfunction",
	"B1600": "Ignition Switch Malfunction",

	// Network
	"U0001": "High Speed CAN Communication Bus",
	"U0100": "Lost Communication With ECM/PCM",
	"U0101": "Lost Communication With TCM",
	"U0121": "Lost Communication With ABS Module",
	"U0140": "Lost Communication With Body Control Module",
	"U0155": "Lost Communication With Instrument Cluster",
}

var families = map[byte]string{
	'P': "Powertrain",
	'C': "Chassis",
	'B': "Body",
	'U': "Network",
}

// Describe returns a human description for a 5-character trouble code.
// Unknown but well-formed codes get a family fallback; anything else gets
// "Unknown DTC".
func Describe(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if desc, ok := descriptions[code]; ok {
		return desc
	}
	if len(code) == 5 {
		if family, ok := families[code[0]]; ok {
			kind := "manufacturer-specific"
			if code[1] == '0' {
				kind = "generic"
			}
			return family + " code (" + kind + ", no description available)"
		}
	}
	return "Unknown DTC"
}

// DescribeAll maps each code to its description.
func DescribeAll(codes []string) map[string]string {
	out := make(map[string]string, len(codes))
	for _, code := range codes {
		out[code] = Describe(code)
	}
	return out
}
