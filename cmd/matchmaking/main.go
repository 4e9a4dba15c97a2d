package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/chorus-party/matchmaking/internal/v1/auth"
	"github.com/chorus-party/matchmaking/internal/v1/bangate"
	"github.com/chorus-party/matchmaking/internal/v1/bus"
	"github.com/chorus-party/matchmaking/internal/v1/config"
	"github.com/chorus-party/matchmaking/internal/v1/health"
	"github.com/chorus-party/matchmaking/internal/v1/ice"
	"github.com/chorus-party/matchmaking/internal/v1/lease"
	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/match"
	"github.com/chorus-party/matchmaking/internal/v1/middleware"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
	"github.com/chorus-party/matchmaking/internal/v1/ratelimit"
	"github.com/chorus-party/matchmaking/internal/v1/session"
	signalrouter "github.com/chorus-party/matchmaking/internal/v1/signal"
	"github.com/chorus-party/matchmaking/internal/v1/socketreg"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"github.com/chorus-party/matchmaking/internal/v1/tracing"
	"github.com/chorus-party/matchmaking/internal/v1/ws"
)

// tickInterval is the cadence at which a replica attempts to claim the tick
// lease and, if it wins, runs one matching cycle plus a room-expiry sweep.
const tickInterval = 2 * time.Second

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting matchmaking broker", zap.String("go_env", cfg.GoEnv), zap.Bool("redis_enabled", cfg.RedisEnabled))

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "matchmaking", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to init exporter", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logging.Warn(ctx, "tracer shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	var s store.Store
	var busSvc *bus.Service
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logging.Fatal(ctx, "invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		s = store.NewRedisStore(redisClient)
		busSvc, err = bus.NewService(opts.Addr, opts.Password)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		}
	} else {
		s = store.NewMemoryStore()
	}

	var validator auth.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled: SKIP_AUTH=true, do not run this in production")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize auth validator", zap.Error(err))
		}
		validator = v
	}

	sockets := socketreg.New(s)
	bans := bangate.New(s)
	q := queue.New(s)
	minter := ice.New(ice.Config{
		StunURLs:  []string{"stun:stun.l.google.com:19302"},
		GameTURN:  ice.TURNEndpoint{URL: cfg.GameTURNURL, Secret: cfg.GameTURNSecret},
		VideoTURN: ice.TURNEndpoint{URL: cfg.VideoTURNURL, Secret: cfg.VideoTURNSecret},
	})

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	hub := ws.NewHub(sockets, q, nil, busSvc, validator, cfg.MatchmakingServerKey, allowedOrigins)

	sessions := session.New(s, sockets, minter, hub, session.NoopAnalytics{})
	signalRouter := signalrouter.New(sockets, sessions, hub)
	matchEngine := match.New(q, sessions, hub)
	hub.SetSessions(sessions)

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	dispatcher := ws.NewDispatcher(sockets, bans, q, sessions, signalRouter, minter, hub, rateLimiter)
	hub.SetDispatcher(dispatcher)

	tickLeader := lease.New(s)
	tickCtx, stopTicking := context.WithCancel(context.Background())
	go runTickLoop(tickCtx, tickLeader, matchEngine, sessions)

	if cfg.DevelopmentMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelCollectorAddr != "" {
		router.Use(otelgin.Middleware("matchmaking"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))
	router.Use(rateLimiter.GlobalMiddleware())

	healthHandler := health.NewHandler(busSvc)
	router.GET("/health", healthHandler.Status)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("", func(c *gin.Context) {
			if !rateLimiter.CheckWebSocket(c) {
				return
			}
			hub.ServeWs(c)
		})
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutdown signal received")

	stopTicking()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Warn(ctx, "hub shutdown reported an error", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(ctx, "http server forced to shut down", zap.Error(err))
	}
	if busSvc != nil {
		if err := busSvc.Close(); err != nil {
			logging.Warn(ctx, "redis bus close reported an error", zap.Error(err))
		}
	}

	logging.Info(ctx, "shutdown complete")
}

// runTickLoop is the Tick Leader: every tickInterval it attempts to claim
// the cross-replica lease, and if it wins, runs one matching cycle and
// reaps any expired pending rooms before releasing the lease. Losing the
// race is routine contention, not an error, so it is not logged; the lease
// package only counts it in its contention metric.
func runTickLoop(ctx context.Context, leader *lease.Leader, engine *match.Engine, sessions *session.Registry) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, ok, err := leader.TryAcquire(ctx)
			if err != nil {
				logging.Warn(ctx, "tick lease acquisition failed", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}

			if err := engine.RunCycle(ctx); err != nil {
				logging.Warn(ctx, "match cycle failed", zap.Error(err))
			}
			if err := sessions.ReapExpiredRooms(ctx); err != nil {
				logging.Warn(ctx, "expired room reap failed", zap.Error(err))
			}

			if err := leader.Release(ctx, held); err != nil {
				logging.Warn(ctx, "tick lease release failed", zap.Error(err))
			}
		}
	}
}
