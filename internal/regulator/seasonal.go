package regulator

import (
	"time"

	"heatingd/internal/devicestore"
)

// SeasonalValve is a pure function of the current month and the PID output.
// Winter months force the valve open; summer months force it closed; shoulder
// months follow the PID output.
func SeasonalValve(month time.Month, pidOutput float64) devicestore.ValveState {
	switch month {
	case time.November, time.December, time.January, time.February, time.March:
		return devicestore.ValveOpen
	case time.June, time.July, time.August:
		return devicestore.ValveClosed
	default: // April, May, September, October
		if pidOutput > 0 {
			return devicestore.ValveOpen
		}
		return devicestore.ValveClosed
	}
}
