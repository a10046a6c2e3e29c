package retro

import (
	"context"
	"errors"

	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/bananalabs-oss/retro/internal/store"
)

// RestoreSession re-binds the member previously known as priorID to connID.
// Only the member's connection id changes. A missing room or member yields
// models.ErrSessionExpired.
func (c *Coordinator) RestoreSession(ctx context.Context, connID, roomID, priorID string) (*models.Room, error) {
	ctx = context.WithoutCancel(ctx)

	if roomID == "" || priorID == "" {
		return nil, models.ErrSessionExpired
	}

	prev, bound, unlock := c.lockMove(connID, roomID)
	defer unlock()

	var (
		room     *models.Room
		replaced *models.Member
		name     string
	)
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
		r, err := tx.GetRoom(ctx, roomID)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionExpired
		}
		if err != nil {
			return err
		}

		member, ok := r.MemberByID(priorID)
		if !ok {
			return models.ErrSessionExpired
		}
		name = member.Name

		if priorID != connID {
			if replaced, err = dropReplaced(ctx, tx, r, connID, name); err != nil {
				return err
			}
			if err := tx.UpdateMemberID(ctx, roomID, priorID, connID); err != nil {
				return err
			}
		}

		room, err = tx.GetRoom(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, c.fail("restore", roomID, err)
	}

	c.leavePrevious(ctx, connID, prev, bound, roomID)
	sess := Session{RoomID: roomID, Name: name}
	c.unbindStale(connID, sess)
	c.bind(connID, sess)

	c.router.Send(connID, roomJoined(room, connID))
	if replaced != nil {
		c.router.Broadcast(roomID, Event{Name: EventUserLeft, Data: *replaced}, connID)
	}
	c.router.Broadcast(roomID, stateUpdated(room), connID)

	c.log.Debug().Str("room", roomID).Str("user", name).Msg("session restored")
	return room, nil
}

// removeMember deletes memberID from the room and stamps the room empty when
// it was the last member. Cards and votes stay attributed to the member's
// name.
func (c *Coordinator) removeMember(ctx context.Context, roomID, memberID string) (*models.Room, models.Member, error) {
	var (
		room    *models.Room
		removed models.Member
	)
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
		r, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		m, ok := r.MemberByID(memberID)
		if !ok {
			return models.ErrNotFound
		}
		removed = *m

		if err := tx.RemoveMember(ctx, roomID, memberID); err != nil {
			return err
		}

		room, err = tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if len(room.Members) == 0 {
			return tx.MarkEmpty(ctx, roomID, c.now())
		}
		return nil
	})
	return room, removed, err
}

func (c *Coordinator) announceLeft(room *models.Room, removed models.Member) {
	if len(room.Members) == 0 {
		c.log.Debug().Str("room", room.ID).Msg("room is empty")
		return
	}
	c.router.Broadcast(room.ID, Event{Name: EventUserLeft, Data: removed})
	c.router.Broadcast(room.ID, stateUpdated(room))
}

// LeaveRoom removes the bound member from its room and unbinds connID.
func (c *Coordinator) LeaveRoom(ctx context.Context, connID string) error {
	ctx = context.WithoutCancel(ctx)

	return c.withSession(connID, func(sess Session) error {
		c.unbind(connID)
		return c.leave(ctx, connID, sess)
	})
}

func (c *Coordinator) leave(ctx context.Context, connID string, sess Session) error {
	room, removed, err := c.removeMember(ctx, sess.RoomID, connID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return c.fail("leave", sess.RoomID, err)
	}

	c.announceLeft(room, removed)
	c.log.Debug().Str("room", sess.RoomID).Str("user", removed.Name).Msg("user left")
	return nil
}

// Disconnect releases everything bound to a transport connection that went
// away. Depending on policy the member is removed or kept for a later
// restore. Room retention is left to the janitor.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	ctx = context.WithoutCancel(ctx)

	err := c.withSession(connID, func(sess Session) error {
		c.unbind(connID)
		if !c.policy.RemoveOnDisconnect {
			return nil
		}
		return c.leave(ctx, connID, sess)
	})
	if errors.Is(err, models.ErrSessionExpired) {
		c.router.Leave(connID)
		return
	}
	if err != nil {
		c.log.Error().Err(err).Str("conn", connID).Msg("disconnect cleanup failed")
	}
}

// KickUser removes targetID from the bound admin's room. The target is told
// with user-kicked and unbound. Kicking oneself is a plain leave.
func (c *Coordinator) KickUser(ctx context.Context, connID, targetID string) error {
	ctx = context.WithoutCancel(ctx)

	if targetID == "" {
		return models.ErrInvalidPayload
	}

	return c.withSession(connID, func(sess Session) error {
		room, err := c.store.GetRoom(ctx, sess.RoomID)
		if err != nil {
			return c.fail("kick", sess.RoomID, err)
		}
		requester, ok := resolveMember(room, connID, sess.Name)
		if !ok || room.RoleFor(requester.Name) != models.RoleAdmin {
			return models.ErrForbidden
		}
		if targetID == requester.ID {
			c.unbind(connID)
			return c.leave(ctx, connID, sess)
		}

		room, removed, err := c.removeMember(ctx, sess.RoomID, targetID)
		if err != nil {
			return c.fail("kick", sess.RoomID, err)
		}

		c.router.Send(targetID, Event{Name: EventUserKicked})
		c.unbind(targetID)
		c.unbindStale(targetID, Session{RoomID: sess.RoomID, Name: removed.Name})

		c.announceLeft(room, removed)
		c.log.Debug().Str("room", sess.RoomID).Str("user", removed.Name).Msg("user kicked")
		return nil
	})
}

// DeleteRoom deletes the bound admin's room.
func (c *Coordinator) DeleteRoom(ctx context.Context, connID string) error {
	ctx = context.WithoutCancel(ctx)

	return c.withSession(connID, func(sess Session) error {
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
			room, err := tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			requester, ok := resolveMember(room, connID, sess.Name)
			if !ok || room.RoleFor(requester.Name) != models.RoleAdmin {
				return models.ErrForbidden
			}
			return tx.DeleteRoom(ctx, sess.RoomID)
		})
		if err != nil {
			return c.fail("delete-room", sess.RoomID, err)
		}

		c.dropRoom(sess.RoomID)
		return nil
	})
}

// DeleteRoomByID deletes a room on behalf of an operator.
func (c *Coordinator) DeleteRoomByID(ctx context.Context, roomID string) error {
	ctx = context.WithoutCancel(ctx)

	unlock := c.locks.lock(roomID)
	defer unlock()

	if err := c.store.DeleteRoom(ctx, roomID); err != nil {
		return c.fail("delete-room", roomID, err)
	}

	c.dropRoom(roomID)
	return nil
}

// dropRoom tells every connection of a deleted room and unbinds them.
func (c *Coordinator) dropRoom(roomID string) {
	c.router.Broadcast(roomID, Event{Name: EventRoomDeleted})
	for _, connID := range c.sessions.inRoom(roomID) {
		c.unbind(connID)
	}
	c.log.Info().Str("room", roomID).Msg("room deleted")
}
