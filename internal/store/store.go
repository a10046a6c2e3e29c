package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/uptrace/bun"
)

// Store is the transactional source of truth for rooms, members, cards and
// votes. A Store returned inside RunInTx is bound to that transaction.
type Store struct {
	root *bun.DB
	db   bun.IDB
	inTx bool
}

func New(db *bun.DB) *Store {
	return &Store{root: db, db: db}
}

// RunInTx runs fn against a Store bound to one transaction. Any error returned
// by fn rolls the whole transaction back. Nested calls join the enclosing
// transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	err := s.root.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{root: s.root, db: tx, inTx: true})
	})
	if err == nil || models.IsPublic(err) {
		return err
	}
	return storageErr(err)
}

func storageErr(err error) error {
	if err == nil || errors.Is(err, models.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrStorage, err)
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

// GetRoom loads the full snapshot of a room with roles derived from the
// creator name. Returns models.ErrNotFound when the room does not exist.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room := new(models.Room)
	err := s.db.NewSelect().
		Model(room).
		Relation("Members", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position")
		}).
		Relation("Cards", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position")
		}).
		Where("r.id = ?", roomID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}

	if room.Members == nil {
		room.Members = []models.Member{}
	}
	if room.Cards == nil {
		room.Cards = []models.Card{}
	}

	if err := s.attachVotes(ctx, room.Cards); err != nil {
		return nil, err
	}

	room.DeriveRoles()
	return room, nil
}

func (s *Store) attachVotes(ctx context.Context, cards []models.Card) error {
	ids := make([]string, 0, len(cards))
	index := make(map[string]*models.Card, len(cards))
	for i := range cards {
		cards[i].Likes = []string{}
		cards[i].Dislikes = []string{}
		ids = append(ids, cards[i].ID)
		index[cards[i].ID] = &cards[i]
	}
	if len(ids) == 0 {
		return nil
	}

	var votes []models.Vote
	err := s.db.NewSelect().
		Model(&votes).
		Where("card_id IN (?)", bun.In(ids)).
		Order("cast_at", "voter").
		Scan(ctx)
	if err != nil {
		return storageErr(err)
	}

	for _, v := range votes {
		card, ok := index[v.CardID]
		if !ok {
			continue
		}
		switch v.Kind {
		case models.VoteLike:
			card.Likes = append(card.Likes, v.Voter)
		case models.VoteDislike:
			card.Dislikes = append(card.Dislikes, v.Voter)
		}
	}
	return nil
}

// PasswordHash returns the stored credential of a room. The hash never
// changes after creation, so callers may verify it outside the room lock.
func (s *Store) PasswordHash(ctx context.Context, roomID string) (string, error) {
	var hash string
	err := s.db.NewSelect().
		Model((*models.Room)(nil)).
		Column("password_hash").
		Where("id = ?", roomID).
		Scan(ctx, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", storageErr(err)
	}
	return hash, nil
}

// CreateRoom inserts the room together with its creator as the first member.
func (s *Store) CreateRoom(ctx context.Context, room *models.Room, creator *models.Member) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		exists, err := tx.db.NewSelect().
			Model((*models.Room)(nil)).
			Where("id = ?", room.ID).
			Exists(ctx)
		if err != nil {
			return storageErr(err)
		}
		if exists {
			return models.ErrAlreadyExists
		}

		now := time.Now().UTC()
		room.CreatedAt = now
		room.UpdatedAt = now
		if _, err := tx.db.NewInsert().Model(room).Exec(ctx); err != nil {
			return storageErr(err)
		}

		creator.RoomID = room.ID
		return tx.AddMember(ctx, creator)
	})
}

// AddMember appends m after the room's current last member.
func (s *Store) AddMember(ctx context.Context, m *models.Member) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		var last int
		err := tx.db.NewSelect().
			Model((*models.Member)(nil)).
			ColumnExpr("COALESCE(MAX(position), 0)").
			Where("room_id = ?", m.RoomID).
			Scan(ctx, &last)
		if err != nil {
			return storageErr(err)
		}

		m.Position = last + 1
		m.JoinedAt = time.Now().UTC()
		if _, err := tx.db.NewInsert().Model(m).Exec(ctx); err != nil {
			return storageErr(err)
		}
		return tx.touch(ctx, m.RoomID)
	})
}

func (s *Store) updateMember(ctx context.Context, roomID, memberID, set string, arg interface{}) error {
	res, err := s.db.NewUpdate().
		Model((*models.Member)(nil)).
		Set(set, arg).
		Where("room_id = ? AND id = ?", roomID, memberID).
		Exec(ctx)
	if err != nil {
		return storageErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateMemberID re-points a member to a new transport connection id.
func (s *Store) UpdateMemberID(ctx context.Context, roomID, memberID, newID string) error {
	return s.updateMember(ctx, roomID, memberID, "id = ?", newID)
}

func (s *Store) UpdateMemberRole(ctx context.Context, roomID, memberID string, role models.Role) error {
	return s.updateMember(ctx, roomID, memberID, "role = ?", role)
}

func (s *Store) SetMemberReady(ctx context.Context, roomID, memberID string, ready bool) error {
	return s.updateMember(ctx, roomID, memberID, "is_ready = ?", ready)
}

func (s *Store) RemoveMember(ctx context.Context, roomID, memberID string) error {
	res, err := s.db.NewDelete().
		Model((*models.Member)(nil)).
		Where("room_id = ? AND id = ?", roomID, memberID).
		Exec(ctx)
	if err != nil {
		return storageErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return s.touch(ctx, roomID)
}

// AddCard appends card after the room's current last card.
func (s *Store) AddCard(ctx context.Context, card *models.Card) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		var last int
		err := tx.db.NewSelect().
			Model((*models.Card)(nil)).
			ColumnExpr("COALESCE(MAX(position), 0)").
			Where("room_id = ?", card.RoomID).
			Scan(ctx, &last)
		if err != nil {
			return storageErr(err)
		}

		card.Position = last + 1
		card.CreatedAt = time.Now().UTC()
		if _, err := tx.db.NewInsert().Model(card).Exec(ctx); err != nil {
			return storageErr(err)
		}
		return tx.touch(ctx, card.RoomID)
	})
}

// UpdateCard applies the non-nil fields of patch.
func (s *Store) UpdateCard(ctx context.Context, roomID, cardID string, patch models.CardPatch) error {
	if patch.Text == nil && patch.Column == nil {
		return nil
	}

	q := s.db.NewUpdate().
		Model((*models.Card)(nil)).
		Where("room_id = ? AND id = ?", roomID, cardID)
	if patch.Text != nil {
		q = q.Set("text = ?", *patch.Text)
	}
	if patch.Column != nil {
		q = q.Set("column_index = ?", *patch.Column)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return storageErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return s.touch(ctx, roomID)
}

// DeleteCard removes a card and every vote cast on it.
func (s *Store) DeleteCard(ctx context.Context, roomID, cardID string) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		_, err := tx.db.NewDelete().
			Model((*models.Vote)(nil)).
			Where("card_id = ?", cardID).
			Exec(ctx)
		if err != nil {
			return storageErr(err)
		}

		res, err := tx.db.NewDelete().
			Model((*models.Card)(nil)).
			Where("room_id = ? AND id = ?", roomID, cardID).
			Exec(ctx)
		if err != nil {
			return storageErr(err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return models.ErrNotFound
		}
		return tx.touch(ctx, roomID)
	})
}

func (s *Store) SetPhase(ctx context.Context, roomID string, phase models.Phase) error {
	if !phase.Valid() {
		return models.ErrInvalidPayload
	}

	res, err := s.db.NewUpdate().
		Model((*models.Room)(nil)).
		Set("phase = ?", phase).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", roomID).
		Exec(ctx)
	if err != nil {
		return storageErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) ResetAllReady(ctx context.Context, roomID string) error {
	_, err := s.db.NewUpdate().
		Model((*models.Member)(nil)).
		Set("is_ready = ?", false).
		Where("room_id = ?", roomID).
		Exec(ctx)
	return storageErr(err)
}

// RecordVote makes kind the only vote of voter on the card, replacing any
// earlier vote by the same voter.
func (s *Store) RecordVote(ctx context.Context, cardID, voter string, kind models.VoteKind) error {
	if !kind.Valid() {
		return models.ErrInvalidPayload
	}

	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		if err := tx.RemoveVote(ctx, cardID, voter); err != nil {
			return err
		}

		vote := &models.Vote{
			CardID: cardID,
			Voter:  voter,
			Kind:   kind,
			CastAt: time.Now().UTC(),
		}
		if _, err := tx.db.NewInsert().Model(vote).Exec(ctx); err != nil {
			return storageErr(err)
		}
		return nil
	})
}

func (s *Store) RemoveVote(ctx context.Context, cardID, voter string) error {
	_, err := s.db.NewDelete().
		Model((*models.Vote)(nil)).
		Where("card_id = ? AND voter = ?", cardID, voter).
		Exec(ctx)
	return storageErr(err)
}

// DeleteRoom removes a room with all of its members, cards and votes.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		cardIDs := tx.db.NewSelect().
			Model((*models.Card)(nil)).
			Column("id").
			Where("room_id = ?", roomID)

		if _, err := tx.db.NewDelete().
			Model((*models.Vote)(nil)).
			Where("card_id IN (?)", cardIDs).
			Exec(ctx); err != nil {
			return storageErr(err)
		}

		if _, err := tx.db.NewDelete().
			Model((*models.Card)(nil)).
			Where("room_id = ?", roomID).
			Exec(ctx); err != nil {
			return storageErr(err)
		}

		if _, err := tx.db.NewDelete().
			Model((*models.Member)(nil)).
			Where("room_id = ?", roomID).
			Exec(ctx); err != nil {
			return storageErr(err)
		}

		res, err := tx.db.NewDelete().
			Model((*models.Room)(nil)).
			Where("id = ?", roomID).
			Exec(ctx)
		if err != nil {
			return storageErr(err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// Clear deletes every room and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	var count int
	err := s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		for _, model := range []interface{}{
			(*models.Vote)(nil),
			(*models.Card)(nil),
			(*models.Member)(nil),
		} {
			if _, err := tx.db.NewDelete().Model(model).Where("1 = 1").Exec(ctx); err != nil {
				return storageErr(err)
			}
		}

		res, err := tx.db.NewDelete().Model((*models.Room)(nil)).Where("1 = 1").Exec(ctx)
		if err != nil {
			return storageErr(err)
		}
		n, err := affected(res)
		count = int(n)
		return err
	})
	return count, err
}

func (s *Store) ListRoomSummaries(ctx context.Context) ([]models.RoomSummary, error) {
	summaries := []models.RoomSummary{}
	err := s.db.NewSelect().
		TableExpr("rooms AS r").
		ColumnExpr("r.id, r.phase").
		ColumnExpr("(SELECT COUNT(*) FROM room_members AS rm WHERE rm.room_id = r.id) AS users_count").
		OrderExpr("r.created_at ASC, r.id ASC").
		Scan(ctx, &summaries)
	if err != nil {
		return nil, storageErr(err)
	}
	return summaries, nil
}

// MarkEmpty stamps the moment the room lost its last member, keeping an
// earlier stamp if one is already set.
func (s *Store) MarkEmpty(ctx context.Context, roomID string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*models.Room)(nil)).
		Set("emptied_at = ?", at.UTC()).
		Where("id = ? AND emptied_at IS NULL", roomID).
		Exec(ctx)
	return storageErr(err)
}

func (s *Store) ClearEmpty(ctx context.Context, roomID string) error {
	_, err := s.db.NewUpdate().
		Model((*models.Room)(nil)).
		Set("emptied_at = NULL").
		Where("id = ?", roomID).
		Exec(ctx)
	return storageErr(err)
}

// ListEmptyRoomsBefore returns rooms that have been empty since cutoff or earlier.
func (s *Store) ListEmptyRoomsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*models.Room)(nil)).
		Column("id").
		Where("emptied_at IS NOT NULL AND emptied_at <= ?", cutoff.UTC()).
		Order("emptied_at").
		Scan(ctx, &ids)
	if err != nil {
		return nil, storageErr(err)
	}
	return ids, nil
}

func (s *Store) touch(ctx context.Context, roomID string) error {
	_, err := s.db.NewUpdate().
		Model((*models.Room)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", roomID).
		Exec(ctx)
	return storageErr(err)
}
