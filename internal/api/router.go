package api

import (
	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/internal/api/handlers"
	"github.com/nomercy/ranked-backend/internal/api/middleware"
	"github.com/nomercy/ranked-backend/internal/service"
	"github.com/nomercy/ranked-backend/internal/websocket"
	jwtutil "github.com/nomercy/ranked-backend/pkg/jwt"
	"github.com/nomercy/ranked-backend/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies everything the HTTP surface needs.
type Dependencies struct {
	Env                string
	CORSAllowedOrigins []string
	JWT                *jwtutil.JWTManager
	Matchmaking        *service.MatchmakingService
	Matches            *service.MatchService
	Hub                *websocket.Hub
	QueueLimiter       ratelimit.Limiter
	Gatherer           prometheus.Gatherer
	// EngineReady reports whether this instance runs the engine; nil means
	// it always does.
	EngineReady func() bool
}

// SetupRouter builds the gin engine with every route.
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(deps.CORSAllowedOrigins))

	queueHandler := handlers.NewQueueHandler(deps.Matchmaking)
	matchHandler := handlers.NewMatchHandler(deps.Matches, deps.Matchmaking)
	adminHandler := handlers.NewAdminHandler(deps.Matches, deps.Matchmaking)
	leaderboardHandler := handlers.NewLeaderboardHandler(deps.Matches)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.CORSAllowedOrigins)

	router.GET("/health", handlers.Health(deps.EngineReady))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := middleware.Auth(deps.JWT)
	engine := middleware.RequireEngine(deps.EngineReady)
	var queueLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.QueueLimiter != nil {
		queueLimit = middleware.RateLimit(deps.QueueLimiter, "queue", nil)
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ws", auth, wsHandler.HandleWebSocket)
		v1.GET("/modes", queueHandler.ListModes)
		v1.GET("/leaderboard/:mode", leaderboardHandler.GetLeaderboard)

		queue := v1.Group("/queue")
		queue.Use(auth, engine)
		{
			queue.POST("/join", queueLimit, queueHandler.Join)
			queue.POST("/leave", queueLimit, queueHandler.Leave)
			queue.GET("/status", queueHandler.Status)
		}

		matches := v1.Group("/matches")
		matches.Use(auth, engine)
		{
			matches.GET("/:id", matchHandler.GetMatch)
			matches.POST("/:id/draft/pick", matchHandler.Pick)
			matches.POST("/:id/vote", matchHandler.Vote)
			matches.POST("/:id/start", matchHandler.Start)
			matches.POST("/:id/complete", matchHandler.Complete)
			matches.POST("/:id/dispute", matchHandler.Dispute)
		}

		admin := v1.Group("/admin")
		admin.Use(auth, middleware.RequireAdmin(), engine)
		{
			admin.POST("/test-matches", adminHandler.CreateTestMatch)
			admin.POST("/matches/:id/cancel", adminHandler.CancelMatch)
			admin.POST("/matches/:id/resolve", adminHandler.ResolveDispute)
			admin.POST("/bans", adminHandler.BanPlayer)
			admin.POST("/captain-penalties", adminHandler.PenalizeCaptain)
		}
	}

	return router
}
