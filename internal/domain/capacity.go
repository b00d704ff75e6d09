package domain

import "time"

// DefaultCancellationWindow is how long before an event starts a booking stops being cancellable.
const DefaultCancellationWindow = 7 * 24 * time.Hour

// CanConfirm reports whether one more confirmed booking fits. The caller must hold the event lock.
func CanConfirm(event Event, confirmed int) bool {
	return confirmed < event.Capacity
}

// CancellationAllowed applies the cancellation lock, which is waived when the event itself was cancelled.
func CancellationAllowed(event Event, now time.Time, window time.Duration) bool {
	if event.Status == EventStatusCancelled {
		return true
	}
	return event.StartsAt.After(now.Add(window))
}
