package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hireme/interview-call/internal/adapters/signal"
	"github.com/hireme/interview-call/internal/app/orch"
	"github.com/hireme/interview-call/internal/config"
	"github.com/hireme/interview-call/internal/core"
	"github.com/hireme/interview-call/internal/domain"
	"github.com/hireme/interview-call/internal/protocol"
	"github.com/rs/zerolog/log"
)

// sessionID derives a stable, non-reversible id from a bearer token so the
// token itself never reaches logs or room state.
func sessionID(token string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(token)).String()
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// BearerMiddleware rejects requests without a bearer token and records the
// derived session id in the gin context and the cookie session.
func BearerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		sid := sessionID(token)
		c.Set(signal.SessionKey, sid)

		s := sessions.Default(c)
		if s.Get(signal.SessionKey) != sid {
			s.Set(signal.SessionKey, sid)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HireMeCall", store))

	limiter := signal.NewRoomRateLimiter(cfg.JoinLimit, cfg.JoinInterval)
	ctrl := signal.NewSignalWSController(o, limiter, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(BearerMiddleware())

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString(signal.SessionKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms.List()})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		id, err := domain.ParseInterviewID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		room, ok := o.Rooms.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"interviewId": id, "members": room.MembersSnapshot()})
	})

	// Closing a room ends any call in it; members stay connected and may
	// join again. Only a member of the room may close it.
	api.DELETE("/rooms/:id", func(c *gin.Context) {
		id, err := domain.ParseInterviewID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, ok := o.Rooms.Get(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		sid := core.SessionID(c.GetString(signal.SessionKey))
		if in, _, ok := o.Registry.RoomOf(sid); !ok || in != id {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
			return
		}
		ctrl.BroadcastRoom(id, protocol.EventCallEnded, struct{}{})
		o.EvictRoom(id)
		log.Info().Str("module", "adapters.http").Str("interview", string(id)).Str("by", string(sid)).Msg("room closed")
		c.Status(http.StatusNoContent)
	})

	api.GET("/whoami", func(c *gin.Context) {
		sid := core.SessionID(c.GetString(signal.SessionKey))
		resp := gin.H{"sid": sid}
		if id, _, ok := o.Registry.RoomOf(sid); ok {
			resp["interviewId"] = id
		}
		c.JSON(http.StatusOK, resp)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
