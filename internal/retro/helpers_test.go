package retro

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bananalabs-oss/retro/internal/database"
	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/bananalabs-oss/retro/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPassword = "p"

type mockHasher struct {
	mock.Mock
}

func (m *mockHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *mockHasher) Compare(hash, password string) (bool, error) {
	args := m.Called(hash, password)
	return args.Bool(0), args.Error(1)
}

// fakeRouter delivers events into per-connection inboxes the way the hub
// does, without a network.
type fakeRouter struct {
	mu     sync.Mutex
	roomOf map[string]string
	inbox  map[string][]Event
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		roomOf: make(map[string]string),
		inbox:  make(map[string][]Event),
	}
}

func (f *fakeRouter) Join(connID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomOf[connID] = roomID
}

func (f *fakeRouter) Leave(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roomOf, connID)
}

func (f *fakeRouter) Broadcast(roomID string, ev Event, except ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
outer:
	for connID, r := range f.roomOf {
		if r != roomID {
			continue
		}
		for _, e := range except {
			if e == connID {
				continue outer
			}
		}
		f.inbox[connID] = append(f.inbox[connID], ev)
	}
}

func (f *fakeRouter) Send(connID string, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox[connID] = append(f.inbox[connID], ev)
}

// drain returns and forgets everything delivered to connID so far.
func (f *fakeRouter) drain(connID string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.inbox[connID]
	delete(f.inbox, connID)
	return evs
}

func (f *fakeRouter) inRoom(connID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roomOf[connID]
	return r, ok
}

func names(evs []Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Name)
	}
	return out
}

func find(evs []Event, name string) (Event, bool) {
	for _, ev := range evs {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

type harness struct {
	coord  *Coordinator
	router *fakeRouter
	hasher *mockHasher
	store  *store.Store
	clock  time.Time
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()

	db, err := database.Connect("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	hasher := new(mockHasher)
	hasher.On("Hash", mock.Anything).Return("hash", nil)
	hasher.On("Compare", "hash", testPassword).Return(true, nil)
	hasher.On("Compare", "hash", mock.Anything).Return(false, nil)

	h := &harness{
		router: newFakeRouter(),
		hasher: hasher,
		store:  store.New(db),
		clock:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.coord = New(h.store, hasher, h.router, policy, zerolog.Nop())
	h.coord.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) create(t *testing.T, connID, roomID, name string) *models.Room {
	t.Helper()
	room, err := h.coord.CreateRoom(context.Background(), connID, roomID, testPassword, name)
	require.NoError(t, err)
	return room
}

func (h *harness) join(t *testing.T, connID, roomID, name string) *models.Room {
	t.Helper()
	room, err := h.coord.JoinRoom(context.Background(), connID, roomID, testPassword, name)
	require.NoError(t, err)
	return room
}

func (h *harness) room(t *testing.T, roomID string) *models.Room {
	t.Helper()
	room, err := h.store.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	return room
}

func (h *harness) card(t *testing.T, connID, text string, cardType models.CardType) *models.Card {
	t.Helper()
	card, err := h.coord.AddCard(context.Background(), connID, text, cardType, cardType.Column())
	require.NoError(t, err)
	return card
}
