package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Service struct {
	store  Store
	logger observability.Logger
	tracer trace.Tracer
	now    func() time.Time
	window time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCancellationWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

func NewService(store Store, logger observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("booking"),
		now:    func() time.Time { return time.Now().UTC() },
		window: domain.DefaultCancellationWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create confirms a booking for userID on eventID, re-activating a cancelled row if one exists.
func (s *Service) Create(ctx context.Context, userID, eventID int64) (*domain.Booking, error) {
	ctx, span := s.start(ctx, "booking.Create", userID, eventID)
	var booking *domain.Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return errors.Wrapf(err, "event %d", eventID)
		}
		if event.Status == domain.EventStatusCancelled {
			return errors.Wrapf(domain.ErrInvalidState, "event %d is cancelled", eventID)
		}

		existing, err := findBooking(ctx, tx, userID, eventID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Confirmed() {
			return errors.Wrapf(domain.ErrConflict, "user %d already booked event %d", userID, eventID)
		}

		confirmed, err := tx.CountConfirmed(ctx, eventID)
		if err != nil {
			return errors.Wrap(err, "count confirmed")
		}
		if !domain.CanConfirm(*event, confirmed) {
			return errors.Wrapf(domain.ErrCapacityExceeded, "event %d is full (%d/%d)", eventID, confirmed, event.Capacity)
		}

		if err := tx.EnsureUser(ctx, userID); err != nil {
			return errors.Wrapf(err, "provision user %d", userID)
		}
		booking, err = s.confirm(ctx, tx, *event, userID, existing)
		if err != nil {
			return err
		}

		// a direct booking supersedes the user's place in the queue
		entry, err := tx.FindWaitlistEntry(ctx, eventID, userID)
		switch {
		case err == nil:
			if err := tx.DeleteWaitlistEntry(ctx, *entry); err != nil {
				return errors.Wrap(err, "drop waitlist entry")
			}
		case !errors.Is(err, domain.ErrNotFound):
			return errors.Wrap(err, "find waitlist entry")
		}

		return tx.Emit(ctx, domain.Notification{
			Kind:    domain.NotificationBookingConfirmed,
			UserID:  userID,
			EventID: eventID,
			Context: map[string]interface{}{
				"booking_id":    booking.ID,
				"points_earned": booking.PointsEarned,
			},
		})
	})
	s.finish(span, "create", err)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"booking_id":    booking.ID,
		"event_id":      eventID,
		"user_id":       userID,
		"points_earned": booking.PointsEarned,
	}).Info("booking confirmed")
	return booking, nil
}

// Cancel cancels one of the caller's bookings and hands the freed seat to the waitlist.
func (s *Service) Cancel(ctx context.Context, userID, bookingID int64) (*domain.Booking, error) {
	ctx, span := s.start(ctx, "booking.Cancel", userID, 0)
	span.SetAttributes(attribute.Int64("booking.id", bookingID))
	var cancelled *domain.Booking
	var promoted *domain.Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return errors.Wrapf(err, "booking %d", bookingID)
		}
		if b.UserID != userID {
			return errors.Wrapf(domain.ErrNotFound, "booking %d", bookingID)
		}

		event, err := tx.LockEvent(ctx, b.EventID)
		if err != nil {
			return errors.Wrapf(err, "event %d", b.EventID)
		}
		// re-read under the event lock
		b, err = tx.GetBooking(ctx, bookingID)
		if err != nil {
			return errors.Wrapf(err, "booking %d", bookingID)
		}
		if !b.Confirmed() {
			return errors.Wrapf(domain.ErrInvalidState, "booking %d is already cancelled", bookingID)
		}
		if !domain.CancellationAllowed(*event, s.now(), s.window) {
			return errors.Wrapf(domain.ErrTooLate, "event %d starts at %s", event.ID, event.StartsAt.Format(time.RFC3339))
		}

		if cancelled, err = s.release(ctx, tx, *b); err != nil {
			return err
		}
		promoted, err = s.promoteNext(ctx, tx, *event)
		return err
	})
	s.finish(span, "cancel", err)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"booking_id": cancelled.ID,
		"event_id":   cancelled.EventID,
		"user_id":    userID,
	}).Info("booking cancelled")
	s.logPromotion(promoted)
	return cancelled, nil
}

// CancelAllForEvent cancels every confirmed booking the caller holds for eventID.
// The cancellation rule is checked once for the event, and the waitlist
// is promoted once per freed seat.
func (s *Service) CancelAllForEvent(ctx context.Context, userID, eventID int64) ([]domain.Booking, error) {
	ctx, span := s.start(ctx, "booking.CancelAllForEvent", userID, eventID)
	var cancelled []domain.Booking
	var promoted []*domain.Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		cancelled, promoted = nil, nil
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return errors.Wrapf(err, "event %d", eventID)
		}
		bookings, err := tx.ListConfirmedBookings(ctx, userID, eventID)
		if err != nil {
			return errors.Wrap(err, "list confirmed bookings")
		}
		if len(bookings) == 0 {
			return errors.Wrapf(domain.ErrNotFound, "no confirmed bookings for user %d on event %d", userID, eventID)
		}
		if !domain.CancellationAllowed(*event, s.now(), s.window) {
			return errors.Wrapf(domain.ErrTooLate, "booking %d: event %d starts at %s",
				bookings[0].ID, event.ID, event.StartsAt.Format(time.RFC3339))
		}

		for _, b := range bookings {
			c, err := s.release(ctx, tx, b)
			if err != nil {
				return err
			}
			cancelled = append(cancelled, *c)

			p, err := s.promoteNext(ctx, tx, *event)
			if err != nil {
				return err
			}
			if p != nil {
				promoted = append(promoted, p)
			}
		}
		return nil
	})
	s.finish(span, "cancel_all", err)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"event_id":  eventID,
		"user_id":   userID,
		"cancelled": len(cancelled),
	}).Info("bookings cancelled for event")
	for _, p := range promoted {
		s.logPromotion(p)
	}
	return cancelled, nil
}

func (s *Service) ListBookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	var bookings []domain.Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		bookings, err = tx.ListBookings(ctx, userID)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list bookings for user %d", userID)
	}
	return bookings, nil
}

// Loyalty returns the caller's balance with tier and discount derived from it.
func (s *Service) Loyalty(ctx context.Context, userID int64) (domain.Loyalty, error) {
	var points int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		points, err = tx.LoyaltyPoints(ctx, userID)
		// a user who never booked has an empty balance
		if errors.Is(err, domain.ErrNotFound) {
			points, err = 0, nil
		}
		return err
	})
	if err != nil {
		return domain.Loyalty{}, errors.Wrapf(err, "user %d", userID)
	}
	return domain.LoyaltyFor(points), nil
}

// confirm flips existing (or a new row) to Confirmed and credits the user. Capacity must
// already have been checked under the event lock.
func (s *Service) confirm(ctx context.Context, tx Tx, event domain.Event, userID int64, existing *domain.Booking) (*domain.Booking, error) {
	points, err := tx.LoyaltyPoints(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "user %d", userID)
	}
	earned := domain.PointsForBooking(event.Price, domain.DiscountFor(points))

	var b domain.Booking
	if existing != nil {
		b = *existing
		b.Status = domain.BookingStatusConfirmed
		b.BookedAt = s.now()
		b.PointsEarned = earned
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return nil, errors.Wrapf(err, "reactivate booking %d", b.ID)
		}
	} else {
		b = domain.Booking{
			UserID:       userID,
			EventID:      event.ID,
			Status:       domain.BookingStatusConfirmed,
			BookedAt:     s.now(),
			PointsEarned: earned,
		}
		if err := tx.InsertBooking(ctx, &b); err != nil {
			return nil, errors.Wrap(err, "insert booking")
		}
	}

	if err := tx.SetLoyaltyPoints(ctx, userID, domain.Earn(points, earned)); err != nil {
		return nil, errors.Wrapf(err, "credit user %d", userID)
	}
	return &b, nil
}

// release cancels b and takes back the points it earned.
func (s *Service) release(ctx context.Context, tx Tx, b domain.Booking) (*domain.Booking, error) {
	points, err := tx.LoyaltyPoints(ctx, b.UserID)
	if err != nil {
		return nil, errors.Wrapf(err, "user %d", b.UserID)
	}
	if err := tx.SetLoyaltyPoints(ctx, b.UserID, domain.Deduct(points, b.PointsEarned)); err != nil {
		return nil, errors.Wrapf(err, "debit user %d", b.UserID)
	}

	refunded := b.PointsEarned
	b.Status = domain.BookingStatusCancelled
	b.PointsEarned = 0
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return nil, errors.Wrapf(err, "cancel booking %d", b.ID)
	}

	err = tx.Emit(ctx, domain.Notification{
		Kind:    domain.NotificationBookingCancelled,
		UserID:  b.UserID,
		EventID: b.EventID,
		Context: map[string]interface{}{
			"booking_id":      b.ID,
			"points_deducted": refunded,
		},
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func findBooking(ctx context.Context, tx Tx, userID, eventID int64) (*domain.Booking, error) {
	b, err := tx.FindBooking(ctx, userID, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find booking")
	}
	return b, nil
}

func (s *Service) start(ctx context.Context, name string, userID, eventID int64) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	span.SetAttributes(attribute.Int64("user.id", userID))
	if eventID != 0 {
		span.SetAttributes(attribute.Int64("event.id", eventID))
	}
	return ctx, span
}

func (s *Service) finish(span trace.Span, op string, err error) {
	defer span.End()
	observability.WorkflowOps.WithLabelValues(op, Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Outcome(err))
	}
}

// Outcome maps an error to its kind label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrTooLate):
		return "too_late"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrSerializationFailure):
		return "serialization_failure"
	default:
		return "error"
	}
}
