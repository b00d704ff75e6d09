package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/event-bookings/internal/auth"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/shopspring/decimal"
)

// BookingService is implemented by booking.Service.
type BookingService interface {
	Create(ctx context.Context, userID, eventID int64) (*domain.Booking, error)
	Cancel(ctx context.Context, userID, bookingID int64) (*domain.Booking, error)
	CancelAllForEvent(ctx context.Context, userID, eventID int64) ([]domain.Booking, error)
	ListBookings(ctx context.Context, userID int64) ([]domain.Booking, error)
	Loyalty(ctx context.Context, userID int64) (domain.Loyalty, error)
	Join(ctx context.Context, eventID, userID int64) (*domain.WaitlistEntry, error)
	Leave(ctx context.Context, eventID, userID int64) error
	Waitlist(ctx context.Context, eventID int64) ([]domain.WaitlistEntry, error)
}

// Auditor records user actions; failures never fail the request.
type Auditor interface {
	LogBooking(ctx context.Context, action string, b domain.Booking) error
	LogWaitlist(ctx context.Context, action string, userID, eventID int64, position int) error
}

// Check is a readiness probe of one dependency.
type Check func(ctx context.Context) error

type Handlers struct {
	svc    BookingService
	audit  Auditor
	checks map[string]Check
	logger observability.Logger
}

func NewHandlers(svc BookingService, audit Auditor, checks map[string]Check, logger observability.Logger) *Handlers {
	return &Handlers{svc: svc, audit: audit, checks: checks, logger: logger}
}

type bookingResponse struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	EventID      int64     `json:"eventId"`
	Status       string    `json:"status"`
	BookedAt     time.Time `json:"bookedAt"`
	PointsEarned int64     `json:"pointsEarned"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:           b.ID,
		UserID:       b.UserID,
		EventID:      b.EventID,
		Status:       string(b.Status),
		BookedAt:     b.BookedAt,
		PointsEarned: b.PointsEarned,
	}
}

func toBookingResponses(bookings []domain.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	return out
}

type waitlistEntryResponse struct {
	ID       int64     `json:"id"`
	EventID  int64     `json:"eventId"`
	UserID   int64     `json:"userId"`
	Position int       `json:"position"`
	JoinedAt time.Time `json:"joinedAt"`
}

func toWaitlistEntryResponse(e domain.WaitlistEntry) waitlistEntryResponse {
	return waitlistEntryResponse{
		ID:       e.ID,
		EventID:  e.EventID,
		UserID:   e.UserID,
		Position: e.Position,
		JoinedAt: e.JoinedAt,
	}
}

type loyaltyResponse struct {
	Points   int64           `json:"points"`
	Tier     string          `json:"tier"`
	Discount decimal.Decimal `json:"discount"`
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID := mustUserID(r)
	var req struct {
		EventID int64 `json:"eventId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventID <= 0 {
		writeError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	b, err := h.svc.Create(r.Context(), userID, req.EventID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.auditBooking(r.Context(), "booking.created", *b)
	writeJSON(w, http.StatusCreated, toBookingResponse(*b))
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.svc.ListBookings(r.Context(), mustUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponses(bookings))
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.svc.Cancel(r.Context(), mustUserID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.auditBooking(r.Context(), "booking.cancelled", *b)
	writeJSON(w, http.StatusOK, toBookingResponse(*b))
}

func (h *Handlers) CancelEventBookings(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventId")
	if !ok {
		return
	}
	cancelled, err := h.svc.CancelAllForEvent(r.Context(), mustUserID(r), eventID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, b := range cancelled {
		h.auditBooking(r.Context(), "booking.cancelled", b)
	}
	writeJSON(w, http.StatusOK, toBookingResponses(cancelled))
}

func (h *Handlers) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID := mustUserID(r)
	entry, err := h.svc.Join(r.Context(), eventID, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.auditWaitlist(r.Context(), "waitlist.joined", userID, eventID, entry.Position)
	writeJSON(w, http.StatusCreated, toWaitlistEntryResponse(*entry))
}

func (h *Handlers) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID := mustUserID(r)
	if err := h.svc.Leave(r.Context(), eventID, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.auditWaitlist(r.Context(), "waitlist.left", userID, eventID, 0)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.svc.Waitlist(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]waitlistEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toWaitlistEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Loyalty(r.Context(), mustUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loyaltyResponse{
		Points:   l.Points,
		Tier:     string(l.Tier),
		Discount: l.Discount,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		loggerFrom(r.Context(), h.logger).WithField("failed", failed).Warn("not ready")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		loggerFrom(r.Context(), h.logger).WithError(err).Error("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func (h *Handlers) auditBooking(ctx context.Context, action string, b domain.Booking) {
	if h.audit == nil {
		return
	}
	if err := h.audit.LogBooking(ctx, action, b); err != nil {
		loggerFrom(ctx, h.logger).WithError(err).Warn("audit failed")
	}
}

func (h *Handlers) auditWaitlist(ctx context.Context, action string, userID, eventID int64, position int) {
	if h.audit == nil {
		return
	}
	if err := h.audit.LogWaitlist(ctx, action, userID, eventID, position); err != nil {
		loggerFrom(ctx, h.logger).WithError(err).Warn("audit failed")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrSerializationFailure):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrTooLate),
		errors.Is(err, domain.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// mustUserID is only called behind JWTMiddleware.
func mustUserID(r *http.Request) int64 {
	id, _ := auth.UserID(r.Context())
	return id
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
