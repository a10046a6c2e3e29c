// Package retro coordinates retrospective rooms: membership, cards, votes and
// the creation -> voting -> discussion phase machine.
//
// Every mutating operation runs under a per-room lock and inside one store
// transaction that starts from a fresh read of the room. Events are handed to
// the Router before the lock is released so that all connections observe
// room updates in commit order. Operations ignore cancellation of the
// caller's context: a request whose connection drops mid-flight still
// completes and is broadcast to the remaining members.
package retro

import (
	"context"
	"time"

	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/bananalabs-oss/retro/internal/store"
	"github.com/rs/zerolog"
)

type Coordinator struct {
	store    *store.Store
	hasher   PasswordHasher
	router   Router
	policy   Policy
	locks    *roomLocks
	sessions *sessions
	now      func() time.Time
	log      zerolog.Logger
}

func New(st *store.Store, hasher PasswordHasher, router Router, policy Policy, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    st,
		hasher:   hasher,
		router:   router,
		policy:   policy,
		locks:    newRoomLocks(),
		sessions: newSessions(),
		now:      time.Now,
		log:      logger.With().Str("component", "retro").Logger(),
	}
}

// Session returns the member binding of a connection.
func (c *Coordinator) Session(connID string) (Session, bool) {
	return c.sessions.get(connID)
}

// withSession runs fn while holding the lock of the room connID is bound to.
// The binding is checked again once the lock is held since a concurrent kick,
// rebind or room deletion may have dropped it.
func (c *Coordinator) withSession(connID string, fn func(sess Session) error) error {
	sess, ok := c.sessions.get(connID)
	if !ok {
		return models.ErrSessionExpired
	}

	unlock := c.locks.lock(sess.RoomID)
	defer unlock()

	cur, ok := c.sessions.get(connID)
	if !ok || cur.RoomID != sess.RoomID {
		return models.ErrSessionExpired
	}
	return fn(cur)
}

func (c *Coordinator) bind(connID string, sess Session) {
	c.sessions.bind(connID, sess)
	c.router.Join(connID, sess.RoomID)
}

func (c *Coordinator) unbind(connID string) {
	c.sessions.unbind(connID)
	c.router.Leave(connID)
}

// unbindStale drops every other connection still driving the member that
// connID now represents.
func (c *Coordinator) unbindStale(connID string, sess Session) {
	for _, other := range c.sessions.others(connID, sess) {
		c.unbind(other)
		c.log.Debug().Str("room", sess.RoomID).Str("conn", other).Msg("stale connection unbound")
	}
}

// lockMove locks roomID together with the room connID is currently bound to
// and returns that binding as seen under both locks.
func (c *Coordinator) lockMove(connID, roomID string) (Session, bool, func()) {
	for {
		prev, bound := c.sessions.get(connID)
		unlock := c.locks.lockAll(roomID, prev.RoomID)
		cur, ok := c.sessions.get(connID)
		if ok == bound && cur == prev {
			return cur, ok, unlock
		}
		unlock()
	}
}

// leavePrevious removes connID from the room it was bound to before moving
// into roomID. Callers hold both room locks and call it only once the move
// has committed. Failures are logged by leave.
func (c *Coordinator) leavePrevious(ctx context.Context, connID string, prev Session, bound bool, roomID string) {
	if !bound || prev.RoomID == roomID {
		return
	}
	c.unbind(connID)
	_ = c.leave(ctx, connID, prev)
}

// dropReplaced removes the member connID drove in room r when the connection
// now takes over a different member of the same room.
func dropReplaced(ctx context.Context, tx *store.Store, r *models.Room, connID, keepName string) (*models.Member, error) {
	old, ok := r.MemberByID(connID)
	if !ok || old.Name == keepName {
		return nil, nil
	}
	replaced := *old
	if err := tx.RemoveMember(ctx, r.ID, connID); err != nil {
		return nil, err
	}
	return &replaced, nil
}

// resolveMember finds the requester by connection id, then by display name
// for connections whose id went stale during a reconnect race.
func resolveMember(room *models.Room, connID, name string) (*models.Member, bool) {
	if m, ok := room.MemberByID(connID); ok {
		return m, true
	}
	if name == "" {
		return nil, false
	}
	return room.MemberByName(name)
}

// fail logs storage failures and passes err through unchanged.
func (c *Coordinator) fail(op, roomID string, err error) error {
	if err != nil && !models.IsPublic(err) {
		c.log.Error().Err(err).Str("op", op).Str("room", roomID).Msg("room operation failed")
	}
	return err
}
