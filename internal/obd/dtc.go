package obd

import "strings"

// mode03Reply is the hex token identifying a Mode 03 response.
const mode03Reply = "43"

// DecodeDTC turns one 2-byte pair into a 5-character diagnostic trouble
// code using the SAE bit layout:
//
//	A7..A6  system letter (P/C/B/U)
//	A5..A4  first digit (0-3)
//	A3..A0  second digit (hex)
//	B7..B0  last two digits (hex)
//
// Returns "" for the 00 00 padding pair.
func DecodeDTC(a, b byte) string {
	if a == 0 && b == 0 {
		return ""
	}

	const hexDigits = "0123456789ABCDEF"
	systems := [4]byte{'P', 'C', 'B', 'U'}

	code := [5]byte{
		systems[(a>>6)&0x03],
		'0' + (a>>4)&0x03,
		hexDigits[a&0x0F],
		hexDigits[(b>>4)&0x0F],
		hexDigits[b&0x0F],
	}
	return string(code[:])
}

// ParseDTCs decodes a Mode 03 ("stored codes") response into trouble codes.
//
// The response is tokenized into 2-hex-digit groups; anything else is
// discarded. If the "43" reply marker is present everything up to and
// including it is skipped, otherwise decoding starts from the first pair
// since some adapters strip the marker. 00 00 pairs are padding, not codes.
func ParseDTCs(resp string) []string {
	var parts []string
	for _, tok := range strings.Fields(strings.ToUpper(resp)) {
		if len(tok) == 2 && hexVal(tok[0]) >= 0 && hexVal(tok[1]) >= 0 {
			parts = append(parts, tok)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	for i, p := range parts {
		if p == mode03Reply {
			parts = parts[i+1:]
			break
		}
	}

	var codes []string
	for i := 0; i+1 < len(parts); i += 2 {
		a := byte(hexVal(parts[i][0])<<4 | hexVal(parts[i][1]))
		b := byte(hexVal(parts[i+1][0])<<4 | hexVal(parts[i+1][1]))
		if code := DecodeDTC(a, b); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// AdapterRefused reports whether the adapter answered with an error banner
// ("NO DATA", "UNABLE TO CONNECT", ...) instead of a payload.
func AdapterRefused(resp string) bool {
	upper := strings.ToUpper(resp)
	return strings.Contains(upper, "NO DATA") || strings.Contains(upper, "UNABLE")
}
