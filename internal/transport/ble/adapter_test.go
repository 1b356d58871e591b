package ble

import (
	"context"
	"errors"
	"testing"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/require"

	"github.com/kavach/kavach/internal/transport"
)

func TestClassifyRadioState(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want transport.RadioState
	}{
		{
			name: "powered off numeric",
			err:  errors.New("central manager has invalid state: have=4 want=5"),
			want: transport.RadioPoweredOff,
		},
		{
			name: "powered off text",
			err:  errors.New("bluetooth is powered off"),
			want: transport.RadioPoweredOff,
		},
		{
			name: "unauthorized numeric",
			err:  errors.New("central manager has invalid state: have=3 want=5"),
			want: transport.RadioUnauthorized,
		},
		{
			name: "permission text",
			err:  errors.New("operation not permitted"),
			want: transport.RadioUnauthorized,
		},
		{
			name: "anything else",
			err:  errors.New("hci device busy"),
			want: transport.RadioUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, classifyRadioState(tt.err))
		})
	}
}

func TestRadioErrorReasonMatchesState(t *testing.T) {
	a := New(nil, nil)

	err := a.radioError(errors.New("have=4 want=5"))
	require.True(t, transport.IsReason(err, transport.RadioDisabled))

	err = a.radioError(errors.New("have=3 want=5"))
	require.True(t, transport.IsReason(err, transport.PermissionDenied))
}

func TestNormalizeUUID(t *testing.T) {
	require.Equal(t, "ffe0", normalizeUUID("FFE0"))
	require.Equal(t, "0000ffe000001000800000805f9b34fb", normalizeUUID("0000FFE0-0000-1000-8000-00805F9B34FB"))
}

func TestFindCharacteristic(t *testing.T) {
	notify := &blelib.Characteristic{UUID: blelib.MustParse("ffe1"), Property: blelib.CharNotify}
	profile := &blelib.Profile{
		Services: []*blelib.Service{
			{
				UUID: blelib.MustParse("180f"),
				Characteristics: []*blelib.Characteristic{
					{UUID: blelib.MustParse("2a19")},
				},
			},
			{
				UUID:            blelib.MustParse("ffe0"),
				Characteristics: []*blelib.Characteristic{notify},
			},
		},
	}

	require.Equal(t, notify, findCharacteristic(profile, "ffe0", "ffe1"))
	require.Equal(t, notify, findCharacteristic(profile, "FFE0", "FFE1"))
	require.Nil(t, findCharacteristic(profile, "ffe0", "ffe2"))
	require.Nil(t, findCharacteristic(profile, "aaaa", "ffe1"))
}

func TestConnectRejectsEmptyAddress(t *testing.T) {
	a := New(DefaultOptions(), nil)

	_, err := a.Connect(context.Background(), "   ")
	require.Error(t, err)
	require.True(t, transport.IsReason(err, transport.ConnectFailed))
}
