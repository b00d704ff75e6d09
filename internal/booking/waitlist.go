package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

// Join appends userID to the waitlist of a full event.
func (s *Service) Join(ctx context.Context, eventID, userID int64) (*domain.WaitlistEntry, error) {
	ctx, span := s.start(ctx, "waitlist.Join", userID, eventID)
	var entry *domain.WaitlistEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return errors.Wrapf(err, "event %d", eventID)
		}
		if event.Status == domain.EventStatusCancelled {
			return errors.Wrapf(domain.ErrInvalidState, "event %d is cancelled", eventID)
		}

		_, err = tx.FindWaitlistEntry(ctx, eventID, userID)
		switch {
		case err == nil:
			return errors.Wrapf(domain.ErrConflict, "user %d is already on the waitlist of event %d", userID, eventID)
		case !errors.Is(err, domain.ErrNotFound):
			return errors.Wrap(err, "find waitlist entry")
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
		if domain.CanConfirm(*event, confirmed) {
			return errors.Wrapf(domain.ErrInvalidState, "event %d has free seats", eventID)
		}

		if err := tx.EnsureUser(ctx, userID); err != nil {
			return errors.Wrapf(err, "provision user %d", userID)
		}
		last, err := tx.MaxWaitlistPosition(ctx, eventID)
		if err != nil {
			return errors.Wrap(err, "max waitlist position")
		}
		entry = &domain.WaitlistEntry{
			EventID:  eventID,
			UserID:   userID,
			Position: last + 1,
			JoinedAt: s.now(),
		}
		return errors.Wrap(tx.InsertWaitlistEntry(ctx, entry), "insert waitlist entry")
	})
	s.finish(span, "join", err)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"event_id": eventID,
		"user_id":  userID,
		"position": entry.Position,
	}).Info("joined waitlist")
	return entry, nil
}

// Leave removes userID from the waitlist and closes the gap behind it.
func (s *Service) Leave(ctx context.Context, eventID, userID int64) error {
	ctx, span := s.start(ctx, "waitlist.Leave", userID, eventID)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockEvent(ctx, eventID); err != nil {
			return errors.Wrapf(err, "event %d", eventID)
		}
		entry, err := tx.FindWaitlistEntry(ctx, eventID, userID)
		if err != nil {
			return errors.Wrapf(err, "waitlist entry of user %d on event %d", userID, eventID)
		}
		return errors.Wrap(tx.DeleteWaitlistEntry(ctx, *entry), "delete waitlist entry")
	})
	s.finish(span, "leave", err)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"event_id": eventID,
		"user_id":  userID,
	}).Info("left waitlist")
	return nil
}

func (s *Service) Waitlist(ctx context.Context, eventID int64) ([]domain.WaitlistEntry, error) {
	var entries []domain.WaitlistEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		entries, err = tx.ListWaitlist(ctx, eventID)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "waitlist of event %d", eventID)
	}
	return entries, nil
}

// PromoteNext confirms the head of the waitlist if the event has a free seat.
// It returns nil when there was nothing to do.
func (s *Service) PromoteNext(ctx context.Context, eventID int64) (*domain.Booking, error) {
	ctx, span := s.start(ctx, "waitlist.PromoteNext", 0, eventID)
	var promoted *domain.Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		event, err := tx.LockEvent(ctx, eventID)
		if errors.Is(err, domain.ErrNotFound) {
			promoted = nil
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "event %d", eventID)
		}
		promoted, err = s.promoteNext(ctx, tx, *event)
		return err
	})
	s.finish(span, "promote", err)
	if err != nil {
		return nil, err
	}
	s.logPromotion(promoted)
	return promoted, nil
}

// Reconcile promotes waitlisted users until the event is full or its waitlist is empty.
func (s *Service) Reconcile(ctx context.Context, eventID int64) (int, error) {
	ctx, span := s.start(ctx, "waitlist.Reconcile", 0, eventID)
	var promoted []*domain.Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		promoted = nil
		event, err := tx.LockEvent(ctx, eventID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "event %d", eventID)
		}
		for {
			p, err := s.promoteNext(ctx, tx, *event)
			if err != nil {
				return err
			}
			if p == nil {
				return nil
			}
			promoted = append(promoted, p)
		}
	})
	s.finish(span, "reconcile", err)
	if err != nil {
		return 0, err
	}
	for _, p := range promoted {
		s.logPromotion(p)
	}
	return len(promoted), nil
}

// promoteNext must run under the event lock.
func (s *Service) promoteNext(ctx context.Context, tx Tx, event domain.Event) (*domain.Booking, error) {
	if event.Status == domain.EventStatusCancelled {
		return nil, nil
	}
	for {
		confirmed, err := tx.CountConfirmed(ctx, event.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count confirmed")
		}
		if !domain.CanConfirm(event, confirmed) {
			return nil, nil
		}

		entry, err := tx.FirstWaitlistEntry(ctx, event.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "first waitlist entry")
		}
		if err := tx.DeleteWaitlistEntry(ctx, *entry); err != nil {
			return nil, errors.Wrap(err, "delete waitlist entry")
		}

		existing, err := findBooking(ctx, tx, entry.UserID, event.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Confirmed() {
			s.logger.WithFields(map[string]interface{}{
				"event_id": event.ID,
				"user_id":  entry.UserID,
			}).Warn("dropping waitlist entry of user with a confirmed booking")
			continue
		}

		b, err := s.confirm(ctx, tx, event, entry.UserID, existing)
		if err != nil {
			return nil, err
		}
		err = tx.Emit(ctx, domain.Notification{
			Kind:    domain.NotificationWaitlistPromoted,
			UserID:  entry.UserID,
			EventID: event.ID,
			Context: map[string]interface{}{
				"booking_id":    b.ID,
				"position":      entry.Position,
				"points_earned": b.PointsEarned,
			},
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (s *Service) logPromotion(b *domain.Booking) {
	if b == nil {
		return
	}
	observability.WaitlistPromotions.Inc()
	s.logger.WithFields(map[string]interface{}{
		"booking_id": b.ID,
		"event_id":   b.EventID,
		"user_id":    b.UserID,
	}).Info("promoted from waitlist")
}
