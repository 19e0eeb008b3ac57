package task

import (
	"time"

	"github.com/adhocore/gronx"
)

// NextFire computes the next fire instant for a trigger, strictly after ref.
// A previously planned instant that is still in the future is preserved for
// interval and cron triggers, so restarts do not slide the schedule. Cron
// expressions are evaluated in loc and the result is reported in UTC. The
// second return value is false when the trigger has no upcoming fire.
func NextFire(tt TriggerType, cfg TriggerConfig, ref time.Time, loc *time.Location, planned *time.Time) (time.Time, bool) {
	switch tt {
	case TriggerInterval:
		if planned != nil && planned.After(ref) {
			return *planned, true
		}
		return ref.Add(cfg.Duration()), true

	case TriggerCron:
		if planned != nil && planned.After(ref) {
			return *planned, true
		}
		if loc == nil {
			loc = time.UTC
		}
		next, err := gronx.NextTickAfter(cfg.Expression, ref.In(loc), false)
		if err != nil {
			return time.Time{}, false
		}
		return next.UTC(), true

	case TriggerDate:
		if cfg.RunDate == nil || !cfg.RunDate.After(ref) {
			return time.Time{}, false
		}
		return *cfg.RunDate, true
	}
	return time.Time{}, false
}
