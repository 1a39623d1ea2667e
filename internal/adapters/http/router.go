package http

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/dkeye/voice-agent/internal/adapters/persistence"
	"github.com/dkeye/voice-agent/internal/adapters/room"
	"github.com/dkeye/voice-agent/internal/app/orch"
	"github.com/dkeye/voice-agent/internal/config"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// IdentityValidator resolves the identity service's session cookie.
type IdentityValidator interface {
	Validate(ctx context.Context, cookie string) (domain.Identity, bool)
}

type IngestStats interface {
	Stats() persistence.Stats
}

type Deps struct {
	Orch     *orch.Orchestrator
	Identity IdentityValidator
	Tokens   *room.TokenMinter
	Ingest   IngestStats
	Limiter  *StartLimiter
	Gatherer prometheus.Gatherer
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable anonymous token kept in
// its cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func corsConfig(origins []string) cors.Config {
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

// SetupRouter wires the HTTP API. Transcript streams live under ctx.
func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	origins := cfg.Origins()
	r.Use(cors.New(corsConfig(origins)))

	secret := cfg.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("no cookie secret configured, client tokens will not survive restarts")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("voice_agent", store))
	r.Use(ClientTokenMiddleware())

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &handlers{
		ctx:      ctx,
		cfg:      cfg,
		orch:     d.Orch,
		identity: d.Identity,
		tokens:   d.Tokens,
		ingest:   d.Ingest,
		limiter:  d.Limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(req *http.Request) bool { return originAllowed(req, origins) },
		},
	}

	r.GET("/health", h.health)
	r.GET("/diagnostics", h.diagnostics)
	r.GET("/token", h.token)
	r.POST("/session", h.startSession)
	r.DELETE("/session/:id", h.stopSession)
	r.GET("/ws/transcript/:id", h.transcript)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Strs("origins", origins).Msg("router setup")
	return r
}

// originAllowed accepts non-browser clients, same-host pages and the CORS
// allow list.
func originAllowed(req *http.Request, origins []string) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == req.Host
}
