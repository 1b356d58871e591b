// Package signal decodes notification payloads from the wearable and
// classifies them against the device's signal code table.
package signal

import (
	"encoding/base64"
	"encoding/hex"
)

// Code is a decoded payload value from the wearable's notification
// characteristic, expressed as the lowercase hex form of the raw bytes.
type Code = string

// Signal code table. The wearable's protocol reserves single-byte codes;
// only CodeTrigger initiates an emergency dispatch, everything else is
// telemetry and updates the state mirror only.
const (
	// CodeTrigger means the user pressed the physical SOS control.
	CodeTrigger Code = "01"
	// CodeBatteryLow is reserved by the protocol for a low-battery report.
	CodeBatteryLow Code = "02"
	// CodeHeartbeat is reserved by the protocol for a periodic keepalive.
	CodeHeartbeat Code = "03"
)

// Payload is one decoded characteristic-value event.
type Payload struct {
	// Hex is the lowercase hexadecimal rendering of the raw bytes, two
	// digits per byte. Empty if the transport encoding was malformed.
	Hex string
	// IsTrigger reports whether the payload is the SOS trigger code.
	IsTrigger bool
}

// Decode converts a raw notification payload, delivered by the transport as
// base64 text, into its hex form and classifies it.
//
// Decode is total: malformed input yields an empty Hex and IsTrigger=false,
// never an error. The transport payload is an arbitrary byte sequence, not
// UTF-8.
func Decode(raw string) Payload {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Payload{}
	}
	return DecodeBytes(data)
}

// DecodeBytes classifies an already-decoded byte sequence.
func DecodeBytes(data []byte) Payload {
	h := hex.EncodeToString(data)
	return Payload{
		Hex:       h,
		IsTrigger: h == CodeTrigger,
	}
}

// Describe returns a short human-readable name for known telemetry codes,
// or "" for codes outside the table.
func Describe(code Code) string {
	switch code {
	case CodeTrigger:
		return "sos"
	case CodeBatteryLow:
		return "battery-low"
	case CodeHeartbeat:
		return "heartbeat"
	default:
		return ""
	}
}
