package retro

import (
	"context"
	"strings"

	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/bananalabs-oss/retro/internal/store"
	"github.com/oklog/ulid/v2"
)

// CreateRoom creates roomID with name as its creator and admin, and binds
// connID to the new member.
func (c *Coordinator) CreateRoom(ctx context.Context, connID, roomID, password, name string) (*models.Room, error) {
	ctx = context.WithoutCancel(ctx)

	roomID = strings.TrimSpace(roomID)
	name = strings.TrimSpace(name)
	if roomID == "" || name == "" || password == "" {
		return nil, models.ErrInvalidPayload
	}

	hash, err := c.hasher.Hash(password)
	if err != nil {
		return nil, c.fail("create", roomID, err)
	}

	prev, bound, unlock := c.lockMove(connID, roomID)
	defer unlock()

	var room *models.Room
	err = c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
		r := &models.Room{
			ID:           roomID,
			PasswordHash: hash,
			Owner:        name,
			Phase:        models.PhaseCreation,
		}
		creator := &models.Member{
			ID:   connID,
			Name: name,
			Role: models.RoleAdmin,
		}
		if err := tx.CreateRoom(ctx, r, creator); err != nil {
			return err
		}

		room, err = tx.GetRoom(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, c.fail("create", roomID, err)
	}

	c.leavePrevious(ctx, connID, prev, bound, roomID)
	c.bind(connID, Session{RoomID: roomID, Name: name})
	c.router.Send(connID, roomJoined(room, connID))

	c.log.Debug().Str("room", roomID).Str("user", name).Msg("room created")
	return room, nil
}

// JoinRoom verifies the room password and binds connID to the member called
// name, creating it if the name is new to the room. A returning name keeps its
// membership record and is re-pointed at connID.
func (c *Coordinator) JoinRoom(ctx context.Context, connID, roomID, password, name string) (*models.Room, error) {
	ctx = context.WithoutCancel(ctx)

	roomID = strings.TrimSpace(roomID)
	name = strings.TrimSpace(name)
	if roomID == "" || name == "" {
		return nil, models.ErrInvalidPayload
	}

	hash, err := c.store.PasswordHash(ctx, roomID)
	if err != nil {
		return nil, c.fail("join", roomID, err)
	}
	ok, err := c.hasher.Compare(hash, password)
	if err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Msg("password verification failed")
		return nil, models.ErrInvalidCredential
	}
	if !ok {
		return nil, models.ErrInvalidCredential
	}

	prev, bound, unlock := c.lockMove(connID, roomID)
	defer unlock()

	var (
		room     *models.Room
		replaced *models.Member
	)
	err = c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
		r, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if replaced, err = dropReplaced(ctx, tx, r, connID, name); err != nil {
			return err
		}
		if replaced != nil {
			if r, err = tx.GetRoom(ctx, roomID); err != nil {
				return err
			}
		}

		role := r.RoleFor(name)
		if existing, ok := r.MemberByName(name); ok {
			if existing.ID != connID {
				if err := tx.UpdateMemberID(ctx, roomID, existing.ID, connID); err != nil {
					return err
				}
			}
			if err := tx.UpdateMemberRole(ctx, roomID, connID, role); err != nil {
				return err
			}
		} else {
			member := &models.Member{
				RoomID: roomID,
				ID:     connID,
				Name:   name,
				Role:   role,
			}
			if err := tx.AddMember(ctx, member); err != nil {
				return err
			}
		}

		if err := tx.ClearEmpty(ctx, roomID); err != nil {
			return err
		}

		room, err = tx.GetRoom(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, c.fail("join", roomID, err)
	}

	c.leavePrevious(ctx, connID, prev, bound, roomID)
	sess := Session{RoomID: roomID, Name: name}
	c.unbindStale(connID, sess)
	c.bind(connID, sess)

	c.router.Send(connID, roomJoined(room, connID))
	if replaced != nil {
		c.router.Broadcast(roomID, Event{Name: EventUserLeft, Data: *replaced}, connID)
	}
	if member, ok := room.MemberByID(connID); ok {
		c.router.Broadcast(roomID, Event{Name: EventUserJoined, Data: member}, connID)
	}
	c.router.Broadcast(roomID, stateUpdated(room))

	c.log.Debug().Str("room", roomID).Str("user", name).Msg("user joined")
	return room, nil
}

// AddCard creates a card authored by the bound member. Only allowed during
// the creation phase.
func (c *Coordinator) AddCard(ctx context.Context, connID, text string, cardType models.CardType, column int) (*models.Card, error) {
	ctx = context.WithoutCancel(ctx)

	var card *models.Card
	err := c.withSession(connID, func(sess Session) error {
		var room *models.Room
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
			r, err := tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			author, ok := resolveMember(r, connID, sess.Name)
			if !ok {
				return models.ErrSessionExpired
			}
			if r.Phase != models.PhaseCreation {
				return models.ErrWrongPhase
			}

			text := strings.TrimSpace(text)
			if text == "" || !cardType.Valid() || column != cardType.Column() {
				return models.ErrInvalidPayload
			}

			newCard := &models.Card{
				ID:        ulid.Make().String(),
				RoomID:    sess.RoomID,
				Text:      text,
				Type:      cardType,
				CreatedBy: author.Name,
				Column:    column,
			}
			if err := tx.AddCard(ctx, newCard); err != nil {
				return err
			}

			room, err = tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			card, _ = room.CardByID(newCard.ID)
			return nil
		})
		if err != nil {
			return c.fail("add-card", sess.RoomID, err)
		}

		c.router.Broadcast(sess.RoomID, Event{Name: EventCardAdded, Data: card})
		c.router.Broadcast(sess.RoomID, stateUpdated(room))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// cardsEditable reports whether authors may change their cards in phase.
func (c *Coordinator) cardsEditable(phase models.Phase) bool {
	switch phase {
	case models.PhaseCreation:
		return true
	case models.PhaseDiscussion:
		return c.policy.AllowDiscussionEdits
	}
	return false
}

// ownCard loads the card for an author-only mutation. Ownership is checked
// before the phase so a non-author always sees ErrNotOwner.
func (c *Coordinator) ownCard(room *models.Room, connID string, sess Session, cardID string) (*models.Card, error) {
	author, ok := resolveMember(room, connID, sess.Name)
	if !ok {
		return nil, models.ErrSessionExpired
	}
	card, ok := room.CardByID(cardID)
	if !ok {
		return nil, models.ErrNotFound
	}
	if card.CreatedBy != author.Name {
		return nil, models.ErrNotOwner
	}
	if !c.cardsEditable(room.Phase) {
		return nil, models.ErrWrongPhase
	}
	return card, nil
}

// EditCard applies patch to a card owned by the bound member.
func (c *Coordinator) EditCard(ctx context.Context, connID, cardID string, patch models.CardPatch) error {
	ctx = context.WithoutCancel(ctx)

	if patch.Text == nil && patch.Column == nil {
		return models.ErrInvalidPayload
	}
	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if text == "" {
			return models.ErrInvalidPayload
		}
		patch.Text = &text
	}
	if patch.Column != nil && (*patch.Column < models.MinColumn || *patch.Column > models.MaxColumn) {
		return models.ErrInvalidPayload
	}

	return c.withSession(connID, func(sess Session) error {
		var room *models.Room
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
			r, err := tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			if _, err := c.ownCard(r, connID, sess, cardID); err != nil {
				return err
			}
			if err := tx.UpdateCard(ctx, sess.RoomID, cardID, patch); err != nil {
				return err
			}
			room, err = tx.GetRoom(ctx, sess.RoomID)
			return err
		})
		if err != nil {
			return c.fail("edit-card", sess.RoomID, err)
		}

		if patch.Text != nil {
			c.router.Broadcast(sess.RoomID, Event{Name: EventCardUpdated, Data: CardUpdated{CardID: cardID, Text: *patch.Text}})
		}
		if patch.Column != nil {
			c.router.Broadcast(sess.RoomID, Event{Name: EventCardMoved, Data: CardMoved{CardID: cardID, Column: *patch.Column}})
		}
		c.router.Broadcast(sess.RoomID, stateUpdated(room))
		return nil
	})
}

// DeleteCard removes a card owned by the bound member.
func (c *Coordinator) DeleteCard(ctx context.Context, connID, cardID string) error {
	ctx = context.WithoutCancel(ctx)

	return c.withSession(connID, func(sess Session) error {
		var room *models.Room
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
			r, err := tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			if _, err := c.ownCard(r, connID, sess, cardID); err != nil {
				return err
			}
			if err := tx.DeleteCard(ctx, sess.RoomID, cardID); err != nil {
				return err
			}
			room, err = tx.GetRoom(ctx, sess.RoomID)
			return err
		})
		if err != nil {
			return c.fail("delete-card", sess.RoomID, err)
		}

		c.router.Broadcast(sess.RoomID, Event{Name: EventCardDeleted, Data: cardID})
		c.router.Broadcast(sess.RoomID, stateUpdated(room))
		return nil
	})
}

// Vote makes kind the bound member's only vote on the card. VoteRemove
// withdraws the vote instead. Only allowed during the voting phase.
func (c *Coordinator) Vote(ctx context.Context, connID, cardID string, kind models.VoteKind) error {
	ctx = context.WithoutCancel(ctx)

	if !kind.Valid() && kind != models.VoteRemove {
		return models.ErrInvalidPayload
	}

	return c.withSession(connID, func(sess Session) error {
		var (
			room *models.Room
			card *models.Card
		)
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
			r, err := tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			voter, ok := resolveMember(r, connID, sess.Name)
			if !ok {
				return models.ErrSessionExpired
			}
			if r.Phase != models.PhaseVoting {
				return models.ErrWrongPhase
			}
			if _, ok := r.CardByID(cardID); !ok {
				return models.ErrNotFound
			}

			if kind == models.VoteRemove {
				err = tx.RemoveVote(ctx, cardID, voter.Name)
			} else {
				err = tx.RecordVote(ctx, cardID, voter.Name, kind)
			}
			if err != nil {
				return err
			}

			room, err = tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			card, _ = room.CardByID(cardID)
			return nil
		})
		if err != nil {
			return c.fail("vote", sess.RoomID, err)
		}

		c.router.Broadcast(sess.RoomID, Event{Name: EventCardVoted, Data: CardVoted{
			CardID:   cardID,
			Likes:    card.Likes,
			Dislikes: card.Dislikes,
		}})
		c.router.Broadcast(sess.RoomID, stateUpdated(room))
		return nil
	})
}

// SetReady updates the bound member's readiness for the current phase.
func (c *Coordinator) SetReady(ctx context.Context, connID string, ready bool) error {
	ctx = context.WithoutCancel(ctx)

	return c.withSession(connID, func(sess Session) error {
		var room *models.Room
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Store) error {
			r, err := tx.GetRoom(ctx, sess.RoomID)
			if err != nil {
				return err
			}
			member, ok := resolveMember(r, connID, sess.Name)
			if !ok {
				return models.ErrNotFound
			}
			if err := tx.SetMemberReady(ctx, sess.RoomID, member.ID, ready); err != nil {
				return err
			}
			room, err = tx.GetRoom(ctx, sess.RoomID)
			return err
		})
		if err != nil {
			return c.fail("ready", sess.RoomID, err)
		}

		c.router.Broadcast(sess.RoomID, stateUpdated(room))
		return nil
	})
}
