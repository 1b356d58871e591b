package transport_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kavach/kavach/internal/transport"
)

func TestErrorIsComparesByReason(t *testing.T) {
	err := &transport.Error{
		Reason:     transport.RadioDisabled,
		Transport:  transport.KindBLE,
		RadioState: transport.RadioPoweredOff,
	}

	require.ErrorIs(t, err, transport.ErrRadioDisabled)
	require.NotErrorIs(t, err, transport.ErrPermissionDenied)
}

func TestErrorSurvivesWrapping(t *testing.T) {
	inner := &transport.Error{Reason: transport.ConnectFailed, Transport: transport.KindClassic}
	wrapped := fmt.Errorf("pairing: %w", inner)

	require.True(t, transport.IsReason(wrapped, transport.ConnectFailed))
	require.False(t, transport.IsReason(wrapped, transport.ScanFailed))
	require.ErrorIs(t, wrapped, transport.ErrConnectFailed)
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("hci: device busy")
	err := &transport.Error{Reason: transport.ScanFailed, Cause: cause}

	require.ErrorIs(t, err, cause)
}

func TestErrorMessageComposition(t *testing.T) {
	err := &transport.Error{
		Reason:     transport.RadioDisabled,
		Transport:  transport.KindBLE,
		RadioState: transport.RadioPoweredOff,
		Msg:        "bluetooth is not powered on",
	}
	require.Equal(t, "radio_disabled [ble] (radio powered_off): bluetooth is not powered on", err.Error())

	bare := &transport.Error{Reason: transport.ScanFailed}
	require.Equal(t, "scan_failed", bare.Error())
}

func TestIsReasonOnForeignError(t *testing.T) {
	require.False(t, transport.IsReason(errors.New("plain"), transport.ScanFailed))
	require.False(t, transport.IsReason(nil, transport.ScanFailed))
}
