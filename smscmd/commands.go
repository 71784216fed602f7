package smscmd

import (
	"fmt"
	"strings"

	"github.com/fleetgate/fleetgate/store"
)

// locationCommand picks the request/response poll command for the device
// model. The vendors never agreed on one syntax.
func locationCommand(device *store.GPSDevice) string {
	switch strings.ToLower(device.DeviceModel) {
	case "tk103":
		return "smslink123456"
	case "gt06":
		return "WHERE#"
	default:
		return "WHERE#"
	}
}

// provisioningCommands is the setup sequence converting an SMS polled
// device into one reporting directly to the socket listeners.
func provisioningCommands(device *store.GPSDevice, host, port string) []string {
	switch strings.ToLower(device.DeviceModel) {
	case "tk103":
		return []string{
			"apn123456 internet",
			fmt.Sprintf("adminip123456 %s %s", host, port),
			"fix030s***n123456",
		}
	default:
		return []string{
			"APN,internet#",
			fmt.Sprintf("SERVER,1,%s,%s,0#", host, port),
			"TIMER,30#",
			"PROTOCOL,1#",
		}
	}
}
