//go:build !darwin && !linux

package ble

import (
	"fmt"

	blelib "github.com/go-ble/ble"
)

func newPlatformDevice() (blelib.Device, error) {
	return nil, fmt.Errorf("ble: no radio support on this platform")
}
