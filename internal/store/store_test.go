package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bananalabs-oss/retro/internal/database"
	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Connect("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db))
	return New(db)
}

func createRoom(t *testing.T, s *Store, roomID, creator string) {
	t.Helper()

	room := &models.Room{ID: roomID, PasswordHash: "hash", Owner: creator, Phase: models.PhaseCreation}
	member := &models.Member{ID: "conn-" + creator, Name: creator, Role: models.RoleAdmin}
	require.NoError(t, s.CreateRoom(context.Background(), room, member))
}

func addMember(t *testing.T, s *Store, roomID, name string, role models.Role) {
	t.Helper()
	require.NoError(t, s.AddMember(context.Background(), &models.Member{
		RoomID: roomID,
		ID:     "conn-" + name,
		Name:   name,
		Role:   role,
	}))
}

func addCard(t *testing.T, s *Store, roomID, cardID, author string) {
	t.Helper()
	require.NoError(t, s.AddCard(context.Background(), &models.Card{
		ID:        cardID,
		RoomID:    roomID,
		Text:      "text " + cardID,
		Type:      models.CardLiked,
		CreatedBy: author,
		Column:    0,
	}))
}

func TestCreateRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createRoom(t, s, "R1", "Alice")

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", room.Owner)
	assert.Equal(t, models.PhaseCreation, room.Phase)
	require.Len(t, room.Members, 1)
	assert.Equal(t, "Alice", room.Members[0].Name)
	assert.Equal(t, models.RoleAdmin, room.Members[0].Role)
	assert.False(t, room.Members[0].Ready)
	assert.Empty(t, room.Cards)
	assert.NotNil(t, room.Cards)

	hash, err := s.PasswordHash(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "hash", hash)
}

func TestCreateRoom_AlreadyExists(t *testing.T) {
	s := newTestStore(t)
	createRoom(t, s, "R1", "Alice")

	err := s.CreateRoom(context.Background(),
		&models.Room{ID: "R1", PasswordHash: "other", Owner: "Mallory", Phase: models.PhaseCreation},
		&models.Member{ID: "conn-m", Name: "Mallory", Role: models.RoleAdmin},
	)
	assert.ErrorIs(t, err, models.ErrAlreadyExists)

	room, err := s.GetRoom(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", room.Owner)
	assert.Len(t, room.Members, 1)
}

func TestGetRoom_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.PasswordHash(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetRoom_DerivesRoles(t *testing.T) {
	s := newTestStore(t)
	createRoom(t, s, "R1", "Alice")

	// Stored roles are ignored in favour of the creator name.
	addMember(t, s, "R1", "Bob", models.RoleAdmin)
	require.NoError(t, s.UpdateMemberRole(context.Background(), "R1", "conn-Alice", models.RoleUser))

	room, err := s.GetRoom(context.Background(), "R1")
	require.NoError(t, err)
	require.Len(t, room.Members, 2)
	assert.Equal(t, "Alice", room.Members[0].Name)
	assert.Equal(t, models.RoleAdmin, room.Members[0].Role)
	assert.Equal(t, "Bob", room.Members[1].Name)
	assert.Equal(t, models.RoleUser, room.Members[1].Role)
}

func TestMemberUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")
	addMember(t, s, "R1", "Bob", models.RoleUser)

	require.NoError(t, s.SetMemberReady(ctx, "R1", "conn-Bob", true))
	require.NoError(t, s.UpdateMemberID(ctx, "R1", "conn-Bob", "conn-Bob-2"))

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	bob, ok := room.MemberByName("Bob")
	require.True(t, ok)
	assert.Equal(t, "conn-Bob-2", bob.ID)
	assert.True(t, bob.Ready)

	require.NoError(t, s.ResetAllReady(ctx, "R1"))
	require.NoError(t, s.RemoveMember(ctx, "R1", "conn-Bob-2"))

	room, err = s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, room.Members, 1)
	assert.False(t, room.Members[0].Ready)

	assert.ErrorIs(t, s.RemoveMember(ctx, "R1", "conn-Bob-2"), models.ErrNotFound)
	assert.ErrorIs(t, s.SetMemberReady(ctx, "R1", "nobody", true), models.ErrNotFound)
}

func TestCards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")
	addCard(t, s, "R1", "c1", "Alice")
	addCard(t, s, "R1", "c2", "Alice")

	text := "edited"
	column := 2
	require.NoError(t, s.UpdateCard(ctx, "R1", "c1", models.CardPatch{Text: &text}))
	require.NoError(t, s.UpdateCard(ctx, "R1", "c2", models.CardPatch{Column: &column}))

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, room.Cards, 2)
	assert.Equal(t, "c1", room.Cards[0].ID)
	assert.Equal(t, "edited", room.Cards[0].Text)
	assert.Equal(t, 0, room.Cards[0].Column)
	assert.Equal(t, "text c2", room.Cards[1].Text)
	assert.Equal(t, 2, room.Cards[1].Column)

	assert.ErrorIs(t, s.UpdateCard(ctx, "R1", "missing", models.CardPatch{Text: &text}), models.ErrNotFound)
	assert.ErrorIs(t, s.UpdateCard(ctx, "other", "c1", models.CardPatch{Text: &text}), models.ErrNotFound)
}

func TestRecordVote_ReplacesPriorVote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")
	addCard(t, s, "R1", "c1", "Alice")

	require.NoError(t, s.RecordVote(ctx, "c1", "Bob", models.VoteLike))
	require.NoError(t, s.RecordVote(ctx, "c1", "Bob", models.VoteLike))
	require.NoError(t, s.RecordVote(ctx, "c1", "Carol", models.VoteDislike))

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, room.Cards[0].Likes)
	assert.Equal(t, []string{"Carol"}, room.Cards[0].Dislikes)

	require.NoError(t, s.RecordVote(ctx, "c1", "Bob", models.VoteDislike))

	room, err = s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, room.Cards[0].Likes)
	assert.ElementsMatch(t, []string{"Bob", "Carol"}, room.Cards[0].Dislikes)

	require.NoError(t, s.RemoveVote(ctx, "c1", "Bob"))
	room, err = s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol"}, room.Cards[0].Dislikes)
}

func TestRecordVote_InvalidKind(t *testing.T) {
	s := newTestStore(t)
	createRoom(t, s, "R1", "Alice")
	addCard(t, s, "R1", "c1", "Alice")

	err := s.RecordVote(context.Background(), "c1", "Bob", models.VoteRemove)
	assert.ErrorIs(t, err, models.ErrInvalidPayload)
}

func TestDeleteCard_RemovesVotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")
	addCard(t, s, "R1", "c1", "Alice")
	require.NoError(t, s.RecordVote(ctx, "c1", "Bob", models.VoteLike))

	require.NoError(t, s.DeleteCard(ctx, "R1", "c1"))

	count, err := s.db.NewSelect().Model((*models.Vote)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, s.DeleteCard(ctx, "R1", "c1"), models.ErrNotFound)
}

func TestSetPhase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")

	require.NoError(t, s.SetPhase(ctx, "R1", models.PhaseDiscussion))
	assert.ErrorIs(t, s.SetPhase(ctx, "R1", models.Phase("review")), models.ErrInvalidPayload)
	assert.ErrorIs(t, s.SetPhase(ctx, "missing", models.PhaseVoting), models.ErrNotFound)

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDiscussion, room.Phase)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")

	err := s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		require.NoError(t, tx.AddCard(ctx, &models.Card{
			ID: "c1", RoomID: "R1", Text: "x", Type: models.CardLiked, CreatedBy: "Alice",
		}))
		require.NoError(t, tx.SetPhase(ctx, "R1", models.PhaseVoting))
		return errors.New("disk on fire")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Equal(t, "Storage error", models.PublicMessage(err))

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, room.Cards)
	assert.Equal(t, models.PhaseCreation, room.Phase)
}

func TestRunInTx_KeepsPublicErrors(t *testing.T) {
	s := newTestStore(t)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx *Store) error {
		return models.ErrWrongPhase
	})
	assert.ErrorIs(t, err, models.ErrWrongPhase)
	assert.NotErrorIs(t, err, models.ErrStorage)
}

func TestDeleteRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")
	createRoom(t, s, "R2", "Zed")
	addMember(t, s, "R1", "Bob", models.RoleUser)
	addCard(t, s, "R1", "c1", "Alice")
	addCard(t, s, "R2", "c2", "Zed")
	require.NoError(t, s.RecordVote(ctx, "c1", "Bob", models.VoteLike))
	require.NoError(t, s.RecordVote(ctx, "c2", "Zed", models.VoteLike))

	require.NoError(t, s.DeleteRoom(ctx, "R1"))

	_, err := s.GetRoom(ctx, "R1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.DeleteRoom(ctx, "R1"), models.ErrNotFound)

	room, err := s.GetRoom(ctx, "R2")
	require.NoError(t, err)
	require.Len(t, room.Cards, 1)
	assert.Equal(t, []string{"Zed"}, room.Cards[0].Likes)
}

func TestListRoomSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	summaries, err := s.ListRoomSummaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	createRoom(t, s, "R1", "Alice")
	addMember(t, s, "R1", "Bob", models.RoleUser)
	createRoom(t, s, "R2", "Zed")
	require.NoError(t, s.SetPhase(ctx, "R2", models.PhaseVoting))

	summaries, err = s.ListRoomSummaries(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.RoomSummary{
		{ID: "R1", UsersCount: 2, Phase: models.PhaseCreation},
		{ID: "R2", UsersCount: 1, Phase: models.PhaseVoting},
	}, summaries)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")
	createRoom(t, s, "R2", "Zed")
	addCard(t, s, "R1", "c1", "Alice")

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	summaries, err := s.ListRoomSummaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestEmptyRoomMarks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "R1", "Alice")
	createRoom(t, s, "R2", "Zed")

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkEmpty(ctx, "R1", base))
	// A later stamp does not move the first one.
	require.NoError(t, s.MarkEmpty(ctx, "R1", base.Add(time.Hour)))
	require.NoError(t, s.MarkEmpty(ctx, "R2", base.Add(30*time.Minute)))

	ids, err := s.ListEmptyRoomsBefore(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, ids)

	ids, err = s.ListEmptyRoomsBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, ids)

	require.NoError(t, s.ClearEmpty(ctx, "R1"))
	ids, err = s.ListEmptyRoomsBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"R2"}, ids)
}
