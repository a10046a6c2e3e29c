package retro

import "github.com/bananalabs-oss/retro/internal/models"

// Outbound event names.
const (
	EventRoomJoined     = "room-joined"
	EventStateUpdated   = "state-updated"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventCardAdded      = "card-added"
	EventCardUpdated    = "card-updated"
	EventCardMoved      = "card-moved"
	EventCardDeleted    = "card-deleted"
	EventCardVoted      = "card-voted"
	EventPhaseChanged   = "phase-changed"
	EventUserKicked     = "user-kicked"
	EventRoomDeleted    = "room-deleted"
	EventSessionExpired = "session-expired"
	EventError          = "error"
)

// Event is one frame sent to a client.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

type RoomJoined struct {
	Room   *models.Room     `json:"room"`
	State  models.RoomState `json:"state"`
	UserID string           `json:"userId"`
}

type CardUpdated struct {
	CardID string `json:"cardId"`
	Text   string `json:"text"`
}

type CardMoved struct {
	CardID string `json:"cardId"`
	Column int    `json:"column"`
}

type CardVoted struct {
	CardID   string   `json:"cardId"`
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

type PhaseChanged struct {
	Phase models.Phase  `json:"phase"`
	Cards []models.Card `json:"cards"`
}

func roomJoined(room *models.Room, connID string) Event {
	return Event{Name: EventRoomJoined, Data: RoomJoined{Room: room, State: room.State(), UserID: connID}}
}

func stateUpdated(room *models.Room) Event {
	return Event{Name: EventStateUpdated, Data: room.State()}
}

// ErrorEvent builds the unicast error frame for a failed request.
func ErrorEvent(err error) Event {
	return Event{Name: EventError, Data: models.PublicMessage(err)}
}
