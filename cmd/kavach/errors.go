package main

import (
	"errors"

	"github.com/kavach/kavach/internal/backend"
	"github.com/kavach/kavach/internal/connmgr"
	"github.com/kavach/kavach/internal/transport"
)

// FormatUserError maps internal errors to actionable messages for the
// terminal. Transient scan/connect/backend failures stay retryable; the
// message says so.
func FormatUserError(err error) string {
	switch {
	case transport.IsReason(err, transport.PermissionDenied):
		return "Bluetooth permission not granted - allow Bluetooth access for this user and retry (" + err.Error() + ")"
	case transport.IsReason(err, transport.RadioDisabled):
		return "Bluetooth is turned off - enable Bluetooth and retry (" + err.Error() + ")"
	case transport.IsReason(err, transport.ScanFailed):
		return "Device scan failed - move closer to the device and retry (" + err.Error() + ")"
	case transport.IsReason(err, transport.ConnectFailed):
		return "Could not connect to the device - make sure it is charged and in range, then retry (" + err.Error() + ")"
	case errors.Is(err, connmgr.ErrRegistrationDegraded):
		return "Device connected, but backend registration failed - it will work locally; retry registration when online (" + err.Error() + ")"
	case errors.Is(err, connmgr.ErrNoPersistedDevice):
		return "No paired device found - run 'kavach pair' first"
	case backend.IsBackendError(err):
		return "Backend request failed - " + err.Error()
	default:
		return err.Error()
	}
}
