package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/meetroom/internal/adapters/rtc"
	"github.com/dkeye/meetroom/internal/adapters/signal"
	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/config"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware labels every browser with a stable token kept in
// the cookie session. It only tags logs; identity comes from the bearer token.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// Deps are the services the router exposes.
type Deps struct {
	Rooms    *app.Lifecycle
	Identity core.IdentityResolver
	Signal   *signal.SignalWSController
	WebRTC   webrtc.Configuration
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("MeetroomSessions", store))
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if deps.Signal != nil {
			body["sessions"] = deps.Signal.Registry.Len()
		}
		c.JSON(http.StatusOK, body)
	})
	api.GET("/webrtc/config", rtc.ConfigHandler(deps.WebRTC))

	api.GET("/ws/rooms/:id", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})

	h := &roomHandlers{rooms: deps.Rooms}
	rooms := api.Group("/rooms", IdentityMiddleware(deps.Identity))
	rooms.POST("", h.create)
	rooms.GET("", h.list)
	rooms.GET("/:id", h.get)
	rooms.POST("/:id/start", h.start)
	rooms.POST("/:id/end", h.end)
	rooms.POST("/:id/join-request", h.requestJoin)
	rooms.POST("/:id/approve-participant", h.approve)
	rooms.POST("/:id/reject-participant", h.reject)
	rooms.POST("/:id/leave", h.leave)
	rooms.GET("/:id/pending-requests", h.pending)
	rooms.GET("/:id/chat/messages", h.chatHistory)
	rooms.GET("/:id/raised-hands", h.raisedHands)
	rooms.POST("/:id/signals", h.postSignal)
	rooms.GET("/:id/signals", h.pullSignals)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowOriginFunc = func(string) bool { return true }
	} else {
		c.AllowOrigins = origins
	}
	return c
}
