package rooms

import (
	"context"
	"errors"
	"net/http"

	"github.com/bananalabs-oss/retro/internal/models"
	"github.com/gin-gonic/gin"
)

// Service is the read and admin surface of the room coordinator.
type Service interface {
	ListRooms(ctx context.Context) ([]models.RoomSummary, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	DeleteRoomByID(ctx context.Context, roomID string) error
	ClearRooms(ctx context.Context) (int, error)
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// --- Lobby endpoints ---

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.svc.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "fetch_failed",
			Message: "Failed to list rooms",
		})
		return
	}

	c.JSON(http.StatusOK, rooms)
}

// --- Internal endpoints (service-to-service) ---

func (h *Handler) GetRoomByID(c *gin.Context) {
	roomID := c.Param("roomId")

	room, err := h.svc.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Room not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "fetch_failed",
			Message: "Failed to fetch room",
		})
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	err := h.svc.DeleteRoomByID(c.Request.Context(), roomID)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Room not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "delete_failed",
			Message: "Failed to delete room",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

func (h *Handler) ClearRooms(c *gin.Context) {
	n, err := h.svc.ClearRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "clear_failed",
			Message: "Failed to clear rooms",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rooms cleared", "deleted": n})
}
