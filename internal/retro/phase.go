package retro

import (
	"context"
	"slices"

	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/bananalabs-oss/retro/internal/store"
)

// ChangePhase moves the bound member's room to target. Only the admin may do
// this; any phase may follow any other. Readiness is cleared for every member
// and, when entering discussion, phase-changed carries the cards ranked by
// score. The ranking is not persisted.
func (c *Coordinator) ChangePhase(ctx context.Context, connID string, target models.Phase) error {
	ctx = context.WithoutCancel(ctx)

	if !target.Valid() {
		return models.ErrInvalidPayload
	}

	return c.withSession(connID, func(sess Session) error {
		var room *models.Room
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
			r, err := tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			requester, ok := resolveMember(r, connID, sess.Name)
			if !ok || r.RoleFor(requester.Name) != models.RoleAdmin {
				return models.ErrForbidden
			}

			if err := tx.SetPhase(ctx, sess.RoomID, target); err != nil {
				return err
			}
			if err := tx.ResetAllReady(ctx, sess.RoomID); err != nil {
				return err
			}

			room, err = tx.GetRoom(ctx, sess.RoomID)
			return err
		})
		if err != nil {
			return c.fail("change-phase", sess.RoomID, err)
		}

		cards := room.Cards
		if room.Phase == models.PhaseDiscussion {
			cards = RankCards(room.Cards)
		}

		c.router.Broadcast(sess.RoomID, Event{Name: EventPhaseChanged, Data: PhaseChanged{Phase: room.Phase, Cards: cards}})
		c.router.Broadcast(sess.RoomID, stateUpdated(room))

		c.log.Debug().Str("room", sess.RoomID).Str("phase", string(room.Phase)).Msg("phase changed")
		return nil
	})
}

// RankCards returns a copy of cards ordered by descending score. Cards with
// equal scores keep their relative order.
func RankCards(cards []models.Card) []models.Card {
	ranked := slices.Clone(cards)
	slices.SortStableFunc(ranked, func(a, b models.Card) int {
		return b.Score() - a.Score()
	})
	return ranked
}
