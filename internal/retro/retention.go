package retro

import (
	"context"
	"errors"
	"time"

	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/bananalabs-oss/retro/internal/store"
)

// RunJanitor sweeps empty rooms every interval until ctx is done. It returns
// immediately when the retention policy keeps empty rooms.
func (c *Coordinator) RunJanitor(ctx context.Context, interval time.Duration) {
	if !c.policy.Retention.DeleteEmpty || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info().
		Str("retention", c.policy.Retention.String()).
		Dur("interval", interval).
		Msg("room janitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.SweepEmptyRooms(ctx)
			if err != nil {
				c.log.Error().Err(err).Msg("room sweep failed")
				continue
			}
			if n > 0 {
				c.log.Info().Int("deleted", n).Msg("swept empty rooms")
			}
		}
	}
}

// SweepEmptyRooms deletes rooms that have had no members for longer than the
// retention window and returns how many were removed.
func (c *Coordinator) SweepEmptyRooms(ctx context.Context) (int, error) {
	if !c.policy.Retention.DeleteEmpty {
		return 0, nil
	}

	cutoff := c.now().Add(-c.policy.Retention.After)
	ids, err := c.store.ListEmptyRoomsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		ok, err := c.expire(ctx, id, cutoff)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// expire deletes roomID if it is still empty and was emptied before cutoff.
// A member may have joined since the room was listed.
func (c *Coordinator) expire(ctx context.Context, roomID string, cutoff time.Time) (bool, error) {
	unlock := c.locks.lock(roomID)
	defer unlock()

	var deleted bool
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if len(room.Members) > 0 || room.EmptiedAt.IsZero() || room.EmptiedAt.After(cutoff) {
			return nil
		}
		if err := tx.DeleteRoom(ctx, roomID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, c.fail("sweep", roomID, err)
	}

	if deleted {
		c.dropRoom(roomID)
	}
	return deleted, nil
}

// ClearRooms deletes every room on behalf of an operator in one
// transaction, then tells the connections of each deleted room.
func (c *Coordinator) ClearRooms(ctx context.Context) (int, error) {
	ctx = context.WithoutCancel(ctx)

	summaries, err := c.store.ListRoomSummaries(ctx)
	if err != nil {
		return 0, c.fail("clear", "", err)
	}
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}

	unlock := c.locks.lockAll(ids...)
	defer unlock()

	deleted, err := c.store.Clear(ctx)
	if err != nil {
		return 0, c.fail("clear", "", err)
	}
	for _, id := range ids {
		c.dropRoom(id)
	}
	return deleted, nil
}

// ListRooms returns the lobby summary of every room.
func (c *Coordinator) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	rooms, err := c.store.ListRoomSummaries(ctx)
	if err != nil {
		return nil, c.fail("list", "", err)
	}
	return rooms, nil
}

// GetRoom returns the snapshot of roomID.
func (c *Coordinator) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, c.fail("get", roomID, err)
	}
	return room, nil
}
