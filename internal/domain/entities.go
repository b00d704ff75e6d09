package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventStatusDraft     EventStatus = "DRAFT"
	EventStatusPublished EventStatus = "PUBLISHED"
	EventStatusCancelled EventStatus = "CANCELLED"
	EventStatusPostponed EventStatus = "POSTPONED"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

type Event struct {
	ID       int64
	Capacity int
	Price    decimal.Decimal
	StartsAt time.Time
	EndsAt   time.Time
	Status   EventStatus
}

// Booking is unique per (UserID, EventID); re-booking flips the same row back to Confirmed.
type Booking struct {
	ID           int64
	UserID       int64
	EventID      int64
	Status       BookingStatus
	BookedAt     time.Time
	PointsEarned int64
}

func (b Booking) Confirmed() bool {
	return b.Status == BookingStatusConfirmed
}

type WaitlistEntry struct {
	ID       int64
	EventID  int64
	UserID   int64
	Position int
	JoinedAt time.Time
}
