package usecase

import "time"

// flexSafetyMargin is how many flex windows the spacing between two reminders
// leaves for periodic jitter. A periodic run can fire up to one flex early and
// the previous one up to one flex late, so anything above 2 keeps the periodic
// check from throttling itself.
const flexSafetyMargin = 2.1

// FlexForPeriodicCheck is the jitter window of the periodic check.
func FlexForPeriodicCheck(interval time.Duration) time.Duration {
	return interval / 10
}

// MinNotificationSpacing is the shortest allowed gap between two reminders.
func MinNotificationSpacing(interval time.Duration) time.Duration {
	flex := FlexForPeriodicCheck(interval)
	return interval - time.Duration(flexSafetyMargin*float64(flex))
}

// MayNotifyNow reports whether a reminder may be posted at now when the last
// one was posted at lastShown. A zero lastShown never throttles.
func MayNotifyNow(now, lastShown time.Time, interval time.Duration) bool {
	if lastShown.IsZero() {
		return true
	}
	return now.Sub(lastShown) >= MinNotificationSpacing(interval)
}
