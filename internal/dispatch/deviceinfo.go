package dispatch

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/host"
)

// fallbackDeviceInfo is recorded when host metadata cannot be gathered.
const fallbackDeviceInfo = "unknown device"

// hostDeviceInfo builds the human-readable device/platform string attached
// to incident submissions. Best-effort: any failure yields the placeholder.
func hostDeviceInfo() string {
	info, err := host.Info()
	if err != nil || info == nil {
		return fallbackDeviceInfo
	}
	return fmt.Sprintf("%s (%s %s, %s)",
		info.Hostname, info.Platform, info.PlatformVersion, info.KernelArch)
}
