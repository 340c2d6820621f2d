package autonomic

import (
	"time"

	"github.com/adhocore/gronx"
)

// inMaintenanceWindow reports whether now falls inside one of windows (cron
// expressions); an empty list means always allowed (spec.md §6
// "MaintenanceWindows gates Heal/Curiosity... empty = always allowed").
func inMaintenanceWindow(windows []string, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	gron := gronx.New()
	for _, expr := range windows {
		if due, err := gron.IsDue(expr, now); err == nil && due {
			return true
		}
	}
	return false
}
