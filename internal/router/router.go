package router

import (
	"net/http"
	"slices"
	"time"

	"github.com/bananalabs-oss/retro/internal/logging"
	"github.com/bananalabs-oss/retro/internal/realtime"
	"github.com/bananalabs-oss/retro/internal/rooms"
	potassium "github.com/bananalabs-oss/potassium/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Deps struct {
	Rooms          rooms.Service
	Realtime       *realtime.Handler
	ServiceToken   string
	AllowedOrigins []string
	Logger         zerolog.Logger
}

func Setup(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger(d.Logger))
	r.Use(cors.New(corsConfig(d.AllowedOrigins)))

	h := rooms.NewHandler(d.Rooms)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "retro"})
	})

	// Lobby and realtime channel
	r.GET("/rooms", h.ListRooms)
	r.GET("/ws", d.Realtime.Serve)

	// Internal endpoints (service token auth via Potassium)
	internal := r.Group("/internal/rooms")
	internal.Use(potassium.ServiceAuth(d.ServiceToken))
	{
		internal.GET("/:roomId", h.GetRoomByID)
		internal.DELETE("/:roomId", h.DeleteRoom)
		internal.DELETE("", h.ClearRooms)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
