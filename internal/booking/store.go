package booking

import (
	"context"

	"github.com/robertarktes/event-bookings/internal/domain"
)

// Store runs fn inside one transaction. Implementations commit when fn returns nil
// and roll back every write otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view of the relational store used by the workflow.
// Lookups that find nothing return domain.ErrNotFound.
type Tx interface {
	// LockEvent reads the event row and holds it locked until the transaction ends.
	LockEvent(ctx context.Context, eventID int64) (*domain.Event, error)
	CountConfirmed(ctx context.Context, eventID int64) (int, error)

	GetBooking(ctx context.Context, bookingID int64) (*domain.Booking, error)
	FindBooking(ctx context.Context, userID, eventID int64) (*domain.Booking, error)
	ListBookings(ctx context.Context, userID int64) ([]domain.Booking, error)
	// ListConfirmedBookings is ordered by BookedAt ascending.
	ListConfirmedBookings(ctx context.Context, userID, eventID int64) ([]domain.Booking, error)
	InsertBooking(ctx context.Context, b *domain.Booking) error
	UpdateBooking(ctx context.Context, b domain.Booking) error

	// EnsureUser creates the user row with a zero balance if it does not exist yet.
	EnsureUser(ctx context.Context, userID int64) error
	// LoyaltyPoints locks the user row and returns its balance.
	LoyaltyPoints(ctx context.Context, userID int64) (int64, error)
	SetLoyaltyPoints(ctx context.Context, userID, points int64) error

	FirstWaitlistEntry(ctx context.Context, eventID int64) (*domain.WaitlistEntry, error)
	FindWaitlistEntry(ctx context.Context, eventID, userID int64) (*domain.WaitlistEntry, error)
	ListWaitlist(ctx context.Context, eventID int64) ([]domain.WaitlistEntry, error)
	MaxWaitlistPosition(ctx context.Context, eventID int64) (int, error)
	InsertWaitlistEntry(ctx context.Context, e *domain.WaitlistEntry) error
	// DeleteWaitlistEntry removes e and shifts every later position of the event down by one.
	DeleteWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error

	// Emit records a notification for asynchronous delivery.
	Emit(ctx context.Context, n domain.Notification) error
}
