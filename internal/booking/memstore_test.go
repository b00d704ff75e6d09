package booking

import (
	"context"
	"sort"
	"sync"

	"github.com/robertarktes/event-bookings/internal/domain"
)

// memStore serializes transactions behind one mutex and applies a transaction's
// writes only when fn succeeds.
type memStore struct {
	mu       sync.Mutex
	state    memState
	failEmit error
}

type memState struct {
	nextID   int64
	events   map[int64]domain.Event
	bookings map[int64]domain.Booking
	users    map[int64]int64
	waitlist map[int64]domain.WaitlistEntry
	outbox   []domain.Notification
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		nextID:   100,
		events:   map[int64]domain.Event{},
		bookings: map[int64]domain.Booking{},
		users:    map[int64]int64{},
		waitlist: map[int64]domain.WaitlistEntry{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		nextID:   s.nextID,
		events:   make(map[int64]domain.Event, len(s.events)),
		bookings: make(map[int64]domain.Booking, len(s.bookings)),
		users:    make(map[int64]int64, len(s.users)),
		waitlist: make(map[int64]domain.WaitlistEntry, len(s.waitlist)),
		outbox:   append([]domain.Notification(nil), s.outbox...),
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.waitlist {
		c.waitlist[k] = v
	}
	return c
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{st: m.state.clone(), failEmit: m.failEmit}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.st
	return nil
}

func (m *memStore) addEvent(e domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.events[e.ID] = e
}

func (m *memStore) addUser(id, points int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[id] = points
}

func (m *memStore) points(id int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.users[id]
}

func (m *memStore) hasUser(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.state.users[id]
	return ok
}

func (m *memStore) booking(id int64) (domain.Booking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.bookings[id]
	return b, ok
}

func (m *memStore) bookingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.bookings)
}

func (m *memStore) confirmed(eventID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.state.bookings {
		if b.EventID == eventID && b.Confirmed() {
			n++
		}
	}
	return n
}

// positions maps user id to waitlist position for eventID.
func (m *memStore) positions(eventID int64) map[int64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]int{}
	for _, e := range m.state.waitlist {
		if e.EventID == eventID {
			out[e.UserID] = e.Position
		}
	}
	return out
}

func (m *memStore) notifications() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Notification(nil), m.state.outbox...)
}

type memTx struct {
	st       memState
	failEmit error
}

func (t *memTx) id() int64 {
	t.st.nextID++
	return t.st.nextID
}

func (t *memTx) LockEvent(ctx context.Context, eventID int64) (*domain.Event, error) {
	e, ok := t.st.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (t *memTx) CountConfirmed(ctx context.Context, eventID int64) (int, error) {
	n := 0
	for _, b := range t.st.bookings {
		if b.EventID == eventID && b.Confirmed() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetBooking(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	b, ok := t.st.bookings[bookingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) FindBooking(ctx context.Context, userID, eventID int64) (*domain.Booking, error) {
	for _, b := range t.st.bookings {
		if b.UserID == userID && b.EventID == eventID {
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *memTx) ListBookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range t.st.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.After(out[j].BookedAt) })
	return out, nil
}

func (t *memTx) ListConfirmedBookings(ctx context.Context, userID, eventID int64) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range t.st.bookings {
		if b.UserID == userID && b.EventID == eventID && b.Confirmed() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.Before(out[j].BookedAt) })
	return out, nil
}

func (t *memTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	b.ID = t.id()
	t.st.bookings[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b domain.Booking) error {
	if _, ok := t.st.bookings[b.ID]; !ok {
		return domain.ErrNotFound
	}
	t.st.bookings[b.ID] = b
	return nil
}

func (t *memTx) EnsureUser(ctx context.Context, userID int64) error {
	if _, ok := t.st.users[userID]; !ok {
		t.st.users[userID] = 0
	}
	return nil
}

func (t *memTx) LoyaltyPoints(ctx context.Context, userID int64) (int64, error) {
	p, ok := t.st.users[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p, nil
}

func (t *memTx) SetLoyaltyPoints(ctx context.Context, userID, points int64) error {
	t.st.users[userID] = points
	return nil
}

func (t *memTx) FirstWaitlistEntry(ctx context.Context, eventID int64) (*domain.WaitlistEntry, error) {
	var first *domain.WaitlistEntry
	for _, e := range t.st.waitlist {
		if e.EventID != eventID {
			continue
		}
		if first == nil || e.Position < first.Position {
			e := e
			first = &e
		}
	}
	if first == nil {
		return nil, domain.ErrNotFound
	}
	return first, nil
}

func (t *memTx) FindWaitlistEntry(ctx context.Context, eventID, userID int64) (*domain.WaitlistEntry, error) {
	for _, e := range t.st.waitlist {
		if e.EventID == eventID && e.UserID == userID {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *memTx) ListWaitlist(ctx context.Context, eventID int64) ([]domain.WaitlistEntry, error) {
	var out []domain.WaitlistEntry
	for _, e := range t.st.waitlist {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (t *memTx) MaxWaitlistPosition(ctx context.Context, eventID int64) (int, error) {
	max := 0
	for _, e := range t.st.waitlist {
		if e.EventID == eventID && e.Position > max {
			max = e.Position
		}
	}
	return max, nil
}

func (t *memTx) InsertWaitlistEntry(ctx context.Context, e *domain.WaitlistEntry) error {
	e.ID = t.id()
	t.st.waitlist[e.ID] = *e
	return nil
}

func (t *memTx) DeleteWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error {
	if _, ok := t.st.waitlist[e.ID]; !ok {
		return domain.ErrNotFound
	}
	delete(t.st.waitlist, e.ID)
	for id, other := range t.st.waitlist {
		if other.EventID == e.EventID && other.Position > e.Position {
			other.Position--
			t.st.waitlist[id] = other
		}
	}
	return nil
}

func (t *memTx) Emit(ctx context.Context, n domain.Notification) error {
	if t.failEmit != nil {
		return t.failEmit
	}
	t.st.outbox = append(t.st.outbox, n)
	return nil
}
