package regulator

import (
	"testing"
	"time"

	"heatingd/internal/devicestore"
)

func TestSeasonalValveWinterAlwaysOpen(t *testing.T) {
	for _, m := range []time.Month{time.November, time.December, time.January, time.February, time.March} {
		if got := SeasonalValve(m, -50); got != devicestore.ValveOpen {
			t.Fatalf("month %v: got %v, want Open", m, got)
		}
	}
}

func TestSeasonalValveSummerAlwaysClosed(t *testing.T) {
	for _, m := range []time.Month{time.June, time.July, time.August} {
		if got := SeasonalValve(m, 100); got != devicestore.ValveClosed {
			t.Fatalf("month %v: got %v, want Closed", m, got)
		}
	}
}

func TestSeasonalValveShoulderFollowsOutput(t *testing.T) {
	for _, m := range []time.Month{time.April, time.May, time.September, time.October} {
		if got := SeasonalValve(m, 1); got != devicestore.ValveOpen {
			t.Fatalf("month %v with positive output: got %v, want Open", m, got)
		}
		if got := SeasonalValve(m, 0); got != devicestore.ValveClosed {
			t.Fatalf("month %v with zero output: got %v, want Closed", m, got)
		}
	}
}
