package domain

type NotificationKind string

const (
	NotificationBookingConfirmed NotificationKind = "BookingConfirmed"
	NotificationWaitlistPromoted NotificationKind = "WaitlistPromoted"
	NotificationBookingCancelled NotificationKind = "BookingCancelled"
)

type Notification struct {
	Kind    NotificationKind       `json:"kind"`
	UserID  int64                  `json:"user_id"`
	EventID int64                  `json:"event_id"`
	Context map[string]interface{} `json:"context,omitempty"`
}
