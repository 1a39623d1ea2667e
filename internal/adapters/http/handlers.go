package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/voice-agent/internal/adapters/identity"
	"github.com/dkeye/voice-agent/internal/adapters/persistence"
	"github.com/dkeye/voice-agent/internal/adapters/room"
	"github.com/dkeye/voice-agent/internal/adapters/transcript"
	"github.com/dkeye/voice-agent/internal/app"
	"github.com/dkeye/voice-agent/internal/app/orch"
	"github.com/dkeye/voice-agent/internal/config"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	ctx      context.Context
	cfg      *config.Config
	orch     *orch.Orchestrator
	identity IdentityValidator
	tokens   *room.TokenMinter
	ingest   IngestStats
	limiter  *StartLimiter
	upgrader websocket.Upgrader
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type persistenceDiagnostics struct {
	BaseURL string `json:"django_base_url"`
	persistence.Stats
}

func (h *handlers) diagnostics(c *gin.Context) {
	var stats persistence.Stats
	if h.ingest != nil {
		stats = h.ingest.Stats()
	}
	if stats.SessionIDs == nil {
		stats.SessionIDs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"livekit": gin.H{
			"url":        h.cfg.LiveKit.URL != "",
			"api_key":    h.cfg.LiveKit.APIKey != "",
			"api_secret": h.cfg.LiveKit.APISecret != "",
		},
		"providers": gin.H{
			"stt":       h.cfg.Providers.STT,
			"tts":       h.cfg.Providers.TTS,
			"llm":       h.cfg.Providers.LLM,
			"tts_voice": h.cfg.TTSVoice,
		},
		"persistence": persistenceDiagnostics{BaseURL: h.cfg.Persistence.BaseURL, Stats: stats},
		"sessions": gin.H{
			"active": h.orch.Count(),
			"list":   h.orch.Sessions(),
		},
	})
}

// token mints a browser access token for a room. The identity defaults to the
// caller's client token.
func (h *handlers) token(c *gin.Context) {
	if !h.cfg.RoomConfigured() || h.tokens == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room credentials not configured"})
		return
	}
	roomName := c.Query("room")
	if roomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing room"})
		return
	}
	ident := c.DefaultQuery("identity", c.GetString(clientTokenKey))

	token, err := h.tokens.Mint(room.TokenRequest{
		Room:     roomName,
		Identity: ident,
		Name:     c.Query("name"),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("mint token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type startSessionRequest struct {
	Room         string `json:"room" binding:"required"`
	Identity     string `json:"identity"`
	SystemPrompt string `json:"system_prompt"`
}

func (h *handlers) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid room"})
		return
	}
	client := c.GetString(clientTokenKey)
	if !h.limiter.Allow(client) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many sessions started, try again later"})
		return
	}

	cfg := domain.SessionConfig{
		Room:         domain.RoomName(req.Room),
		Instructions: req.SystemPrompt,
	}
	if cfg.Instructions == "" {
		cfg.Instructions = h.cfg.SystemPrompt
	}
	if cookie, err := c.Cookie(identity.CookieName); err == nil && h.identity != nil {
		if user, ok := h.identity.Validate(c.Request.Context(), cookie); ok {
			cfg.UserID = user.UserID
			cfg.Preferences = user.Preferences
			if o := user.Preferences.SystemPromptOverride; o != "" {
				cfg.Instructions = o
			}
		}
	}

	sid, err := h.orch.Start(c.Request.Context(), cfg)
	if err != nil {
		c.JSON(startStatus(err), gin.H{"error": err.Error()})
		return
	}
	log.Info().
		Str("module", "adapters.http").
		Str("sid", string(sid)).
		Str("client", client).
		Str("identity", req.Identity).
		Bool("authenticated", cfg.UserID != "").
		Msg("session start requested")
	c.JSON(http.StatusOK, gin.H{"session_id": sid})
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomEmpty), errors.Is(err, domain.ErrRoomTooLong):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) stopSession(c *gin.Context) {
	if !h.orch.Stop(c.Request.Context(), domain.SessionID(c.Param("id"))) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// transcript streams a session's envelopes until the client leaves or the
// session ends.
func (h *handlers) transcript(c *gin.Context) {
	sid := domain.SessionID(c.Param("id"))
	if !h.orch.Lookup(sid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	conn := transcript.NewConn(ws, sid, transcript.Options{
		ReadLimit:  h.cfg.ReadLimit,
		PingPeriod: h.cfg.PingPeriod,
	})

	router := h.orch.Router()
	sub, err := router.Subscribe(sid, conn)
	if err != nil {
		// The session ended between the lookup and the upgrade.
		conn.Close()
	} else {
		defer router.Unsubscribe(sub)
	}
	conn.Serve(h.ctx)
}
