package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/bananalabs-oss/retro/internal/retro"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Coordinator is the room logic the websocket surface drives.
type Coordinator interface {
	CreateRoom(ctx context.Context, connID, roomID, password, name string) (*models.Room, error)
	JoinRoom(ctx context.Context, connID, roomID, password, name string) (*models.Room, error)
	RestoreSession(ctx context.Context, connID, roomID, priorID string) (*models.Room, error)
	AddCard(ctx context.Context, connID, text string, cardType models.CardType, column int) (*models.Card, error)
	EditCard(ctx context.Context, connID, cardID string, patch models.CardPatch) error
	DeleteCard(ctx context.Context, connID, cardID string) error
	Vote(ctx context.Context, connID, cardID string, kind models.VoteKind) error
	SetReady(ctx context.Context, connID string, ready bool) error
	ChangePhase(ctx context.Context, connID string, target models.Phase) error
	LeaveRoom(ctx context.Context, connID string) error
	KickUser(ctx context.Context, connID, targetID string) error
	DeleteRoom(ctx context.Context, connID string) error
	Disconnect(ctx context.Context, connID string)
}

type Options struct {
	AllowedOrigins []string
	RateLimit      rate.Limit
	RateBurst      int
}

type handlerFunc func(ctx context.Context, connID string, data json.RawMessage) error

type Handler struct {
	coord    Coordinator
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
	log      zerolog.Logger
}

func NewHandler(coord Coordinator, hub *Hub, opts Options, logger zerolog.Logger) *Handler {
	h := &Handler{
		coord: coord,
		hub:   hub,
		opts:  opts,
		log:   logger.With().Str("component", "realtime").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	h.handlers = map[string]handlerFunc{
		"create-room":        h.createRoom,
		"join-room":          h.joinRoom,
		"restore-session":    h.restoreSession,
		"add-card":           h.addCard,
		"update-card":        h.updateCard,
		"move-card":          h.moveCard,
		"delete-card":        h.deleteCard,
		"vote-card":          h.voteCard,
		"update-ready-state": h.updateReady,
		"change-phase":       h.changePhase,
		"leave-room":         h.leaveRoom,
		"kick-user":          h.kickUser,
		"delete-room":        h.deleteRoom,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 || slices.Contains(h.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.ContainsFunc(h.opts.AllowedOrigins, func(o string) bool {
		return strings.EqualFold(o, origin)
	})
}

// Serve upgrades the request and runs the connection until it closes.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("ip", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	limit, burst := h.opts.RateLimit, h.opts.RateBurst
	if limit <= 0 {
		limit, burst = rate.Inf, 0
	}
	client := newClient(uuid.NewString(), conn, rate.NewLimiter(limit, burst))

	h.hub.register(client)
	go client.writePump()

	ctx := context.WithoutCancel(c.Request.Context())
	h.log.Debug().Str("conn", client.id).Msg("connection opened")

	client.readPump(func(frame inbound) {
		h.dispatch(ctx, client, frame)
	})

	h.coord.Disconnect(ctx, client.id)
	h.hub.unregister(client.id)
	h.log.Debug().Str("conn", client.id).Msg("connection closed")
}

func (h *Handler) dispatch(ctx context.Context, client *Client, frame inbound) {
	if !client.limiter.Allow() {
		h.reply(client.id, models.ErrRateLimited)
		return
	}

	fn, ok := h.handlers[frame.Event]
	if !ok {
		h.log.Debug().Str("conn", client.id).Str("event", frame.Event).Msg("unknown event")
		h.reply(client.id, models.ErrInvalidPayload)
		return
	}

	if err := fn(ctx, client.id, frame.Data); err != nil {
		h.reply(client.id, err)
	}
}

// reply reports a failed request to the connection that sent it.
func (h *Handler) reply(connID string, err error) {
	if errors.Is(err, models.ErrSessionExpired) {
		h.hub.Send(connID, retro.Event{Name: retro.EventSessionExpired})
		return
	}
	h.hub.Send(connID, retro.ErrorEvent(err))
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return models.ErrInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return models.ErrInvalidPayload
	}
	return nil
}

type credentialsPayload struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password"`
	Username string `json:"username"`
}

func (h *Handler) createRoom(ctx context.Context, connID string, data json.RawMessage) error {
	var p credentialsPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	_, err := h.coord.CreateRoom(ctx, connID, p.RoomID, p.Password, p.Username)
	return err
}

func (h *Handler) joinRoom(ctx context.Context, connID string, data json.RawMessage) error {
	var p credentialsPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	_, err := h.coord.JoinRoom(ctx, connID, p.RoomID, p.Password, p.Username)
	return err
}

func (h *Handler) restoreSession(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		RoomID string `json:"roomId"`
		UserID string `json:"userId"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	_, err := h.coord.RestoreSession(ctx, connID, p.RoomID, p.UserID)
	return err
}

func (h *Handler) addCard(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		Text   string          `json:"text"`
		Type   models.CardType `json:"type"`
		Column *int            `json:"column"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	column := p.Type.Column()
	if p.Column != nil {
		column = *p.Column
	}
	_, err := h.coord.AddCard(ctx, connID, p.Text, p.Type, column)
	return err
}

func (h *Handler) updateCard(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		CardID string  `json:"cardId"`
		Text   *string `json:"text"`
		Column *int    `json:"column"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return h.coord.EditCard(ctx, connID, p.CardID, models.CardPatch{Text: p.Text, Column: p.Column})
}

func (h *Handler) moveCard(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		CardID string `json:"cardId"`
		Column *int   `json:"column"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.Column == nil {
		return models.ErrInvalidPayload
	}
	return h.coord.EditCard(ctx, connID, p.CardID, models.CardPatch{Column: p.Column})
}

func (h *Handler) deleteCard(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		CardID string `json:"cardId"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return h.coord.DeleteCard(ctx, connID, p.CardID)
}

func (h *Handler) voteCard(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		CardID   string          `json:"cardId"`
		VoteType models.VoteKind `json:"voteType"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return h.coord.Vote(ctx, connID, p.CardID, p.VoteType)
}

func (h *Handler) updateReady(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		IsReady bool `json:"isReady"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return h.coord.SetReady(ctx, connID, p.IsReady)
}

func (h *Handler) changePhase(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		Phase models.Phase `json:"phase"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return h.coord.ChangePhase(ctx, connID, p.Phase)
}

func (h *Handler) leaveRoom(ctx context.Context, connID string, _ json.RawMessage) error {
	return h.coord.LeaveRoom(ctx, connID)
}

func (h *Handler) kickUser(ctx context.Context, connID string, data json.RawMessage) error {
	var p struct {
		UserID string `json:"userId"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return h.coord.KickUser(ctx, connID, p.UserID)
}

func (h *Handler) deleteRoom(ctx context.Context, connID string, _ json.RawMessage) error {
	return h.coord.DeleteRoom(ctx, connID)
}
