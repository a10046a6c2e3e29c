package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Phase string

const (
	PhaseCreation   Phase = "creation"
	PhaseVoting     Phase = "voting"
	PhaseDiscussion Phase = "discussion"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type CardType string

const (
	CardLiked      CardType = "liked"
	CardDisliked   CardType = "disliked"
	CardSuggestion CardType = "suggestion"
)

type VoteKind string

const (
	VoteLike    VoteKind = "like"
	VoteDislike VoteKind = "dislike"

	// VoteRemove is the explicit intent to withdraw a vote. It is never stored.
	VoteRemove VoteKind = "remove"
)

const (
	MinColumn = 0
	MaxColumn = 2
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseCreation, PhaseVoting, PhaseDiscussion:
		return true
	}
	return false
}

func (t CardType) Valid() bool {
	switch t {
	case CardLiked, CardDisliked, CardSuggestion:
		return true
	}
	return false
}

// Column is the board column a card of this type is created in.
func (t CardType) Column() int {
	switch t {
	case CardDisliked:
		return 1
	case CardSuggestion:
		return 2
	}
	return 0
}

func (k VoteKind) Valid() bool {
	return k == VoteLike || k == VoteDislike
}

type Room struct {
	bun.BaseModel `bun:"table:rooms,alias:r"`

	ID           string    `bun:"id,pk,type:text"             json:"id"`
	PasswordHash string    `bun:"password_hash,notnull"       json:"-"`
	Owner        string    `bun:"owner,notnull"               json:"owner"`
	Phase        Phase     `bun:"phase,notnull"               json:"phase"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull" json:"-"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull" json:"-"`
	EmptiedAt    time.Time `bun:"emptied_at,nullzero"         json:"-"`

	Members []Member `bun:"rel:has-many,join:id=room_id" json:"users"`
	Cards   []Card   `bun:"rel:has-many,join:id=room_id" json:"cards"`
}

type Member struct {
	bun.BaseModel `bun:"table:room_members,alias:rm"`

	RoomID   string    `bun:"room_id,notnull,type:text"  json:"roomId"`
	ID       string    `bun:"id,notnull,type:text"       json:"id"`
	Name     string    `bun:"name,notnull"               json:"name"`
	Role     Role      `bun:"role,notnull"               json:"role"`
	Ready    bool      `bun:"is_ready,notnull"           json:"isReady"`
	Position int       `bun:"position,notnull"           json:"-"`
	JoinedAt time.Time `bun:"joined_at,nullzero,notnull" json:"-"`
}

type Card struct {
	bun.BaseModel `bun:"table:cards,alias:c"`

	ID        string    `bun:"id,pk,type:text"             json:"id"`
	RoomID    string    `bun:"room_id,notnull,type:text"   json:"-"`
	Text      string    `bun:"text,notnull"                json:"text"`
	Type      CardType  `bun:"type,notnull"                json:"type"`
	CreatedBy string    `bun:"created_by,notnull"          json:"createdBy"`
	Column    int       `bun:"column_index,notnull"        json:"column"`
	Position  int       `bun:"position,notnull"            json:"-"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull" json:"-"`

	Likes    []string `bun:"-" json:"likes"`
	Dislikes []string `bun:"-" json:"dislikes"`
}

type Vote struct {
	bun.BaseModel `bun:"table:card_votes,alias:cv"`

	CardID string    `bun:"card_id,pk,type:text"     json:"cardId"`
	Voter  string    `bun:"voter,pk"                 json:"voter"`
	Kind   VoteKind  `bun:"kind,notnull"             json:"kind"`
	CastAt time.Time `bun:"cast_at,nullzero,notnull" json:"-"`
}

// Score is likes minus dislikes.
func (c Card) Score() int {
	return len(c.Likes) - len(c.Dislikes)
}

// CardPatch is a partial card update; nil fields are left untouched.
type CardPatch struct {
	Text   *string
	Column *int
}

type RoomState struct {
	Cards []Card   `json:"cards"`
	Phase Phase    `json:"phase"`
	Users []Member `json:"users"`
}

type RoomSummary struct {
	ID         string `bun:"id"          json:"id"`
	UsersCount int    `bun:"users_count" json:"usersCount"`
	Phase      Phase  `bun:"phase"       json:"phase"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
