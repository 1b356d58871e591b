// Package transport defines the capability surface shared by the two
// Bluetooth transports (Low Energy and Classic): scan for candidates,
// connect to one, and hold a standing notification subscription.
//
// Consumers (the registry and the connection manager) only ever see this
// interface; the adapters in the ble and classic subpackages carry the
// platform specifics.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies which radio protocol an adapter or candidate belongs to.
type Kind string

const (
	KindBLE     Kind = "ble"
	KindClassic Kind = "classic"
)

// RadioState is the platform-reported power state of the radio.
type RadioState string

const (
	RadioPoweredOn    RadioState = "powered_on"
	RadioPoweredOff   RadioState = "powered_off"
	RadioUnauthorized RadioState = "unauthorized"
	RadioUnknown      RadioState = "unknown"
)

// Candidate is one observed wearable candidate surfaced during a scan
// window. The ID is transport-scoped: BLE reports a platform address/UUID,
// Classic a MAC-style address. Candidates from different transports never
// share an ID.
type Candidate struct {
	ID     string
	Name   string
	Kind   Kind
	Bonded bool // Classic-only concept, always false for BLE
	RSSI   *int
}

// CandidateFunc receives discovery events during an active scan window.
type CandidateFunc func(Candidate)

// NotifyFunc receives raw notification payloads from a standing
// subscription, in the order the radio stack emits them.
type NotifyFunc func(data []byte)

// Connection is a live link to one device. At most one Connection per
// Transport is active at a time; the connection manager enforces this.
type Connection interface {
	// ID returns the identifier of the connected device.
	ID() string
	// Subscribe opens the standing subscription to the device's
	// notification characteristic. The subscription is long-lived and torn
	// down only by Close, never by timeout.
	Subscribe(fn NotifyFunc) error
	// Close tears down the subscription and the link.
	Close() error
}

// Transport is the polymorphic radio capability composed by the device
// registry and the connection manager.
type Transport interface {
	Kind() Kind
	// State reports the current radio power state. It must not require an
	// open connection.
	State(ctx context.Context) (RadioState, error)
	// Scan discovers candidates until ctx is done, invoking fn for each
	// discovery event. A context deadline or cancellation is a normal end
	// of the scan window, not an error.
	Scan(ctx context.Context, fn CandidateFunc) error
	// Connect establishes a link to the candidate with the given id.
	Connect(ctx context.Context, id string) (Connection, error)
}

// Reason is the specific failure class of a transport error.
type Reason string

const (
	// PermissionDenied: a required OS permission (scan/connect/location)
	// is not granted.
	PermissionDenied Reason = "permission_denied"
	// RadioDisabled: the radio is powered off or otherwise unavailable.
	RadioDisabled Reason = "radio_disabled"
	// ScanFailed: the transport reported a discovery failure.
	ScanFailed Reason = "scan_failed"
	// ConnectFailed: connect or characteristic discovery failed.
	ConnectFailed Reason = "connect_failed"
)

// Error is a transport failure carrying the failure class, the transport it
// came from, and the raw radio-state string where one applies.
type Error struct {
	Reason     Reason
	Transport  Kind
	RadioState RadioState
	Msg        string
	Cause      error
}

func (e *Error) Error() string {
	s := string(e.Reason)
	if e.Transport != "" {
		s = fmt.Sprintf("%s [%s]", s, e.Transport)
	}
	if e.RadioState != "" {
		s = fmt.Sprintf("%s (radio %s)", s, e.RadioState)
	}
	if e.Msg != "" {
		s = fmt.Sprintf("%s: %s", s, e.Msg)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is to compare transport errors by Reason.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Sentinels for errors.Is comparisons.
var (
	ErrPermissionDenied = &Error{Reason: PermissionDenied}
	ErrRadioDisabled    = &Error{Reason: RadioDisabled}
	ErrScanFailed       = &Error{Reason: ScanFailed}
	ErrConnectFailed    = &Error{Reason: ConnectFailed}
)

// IsReason reports whether err is a transport Error with the given reason.
func IsReason(err error, r Reason) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Reason == r
	}
	return false
}
