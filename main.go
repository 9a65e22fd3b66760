package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/clipcast/clipcast/backend/account-service/handlers"
	"github.com/clipcast/clipcast/backend/account-service/internal/accounts"
	"github.com/clipcast/clipcast/backend/account-service/internal/avatars"
	"github.com/clipcast/clipcast/backend/account-service/internal/binding"
	"github.com/clipcast/clipcast/backend/account-service/internal/config"
	"github.com/clipcast/clipcast/backend/account-service/internal/database"
	"github.com/clipcast/clipcast/backend/account-service/internal/gateway"
	"github.com/clipcast/clipcast/backend/account-service/internal/identity"
	"github.com/clipcast/clipcast/backend/account-service/internal/oidc"
	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
	"github.com/clipcast/clipcast/backend/account-service/internal/resolver"
	"github.com/clipcast/clipcast/backend/account-service/internal/storage"
	"github.com/clipcast/clipcast/backend/account-service/internal/tokens"
	"github.com/clipcast/clipcast/backend/account-service/pkg/logger"
	"github.com/clipcast/clipcast/backend/account-service/pkg/metrics"
	"github.com/clipcast/clipcast/backend/account-service/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: backend=%s provider=%v mongo=%v redis=%v", cfg.Backend.BaseURL, cfg.Provider.Issuer != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	r := gin.New()

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	r.Use(func(c *gin.Context) {
		origin := "*"
		if cfg.Backend.Origin != "" {
			origin = cfg.Backend.Origin
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	// Global middlewares: logging + recovery
	r.Use(gin.Logger(), gin.Recovery())

	ctx := context.Background()

	// Connect to Redis early so the blacklist and rate limiter can use it
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			tokens.SetBlacklistClient(redisClient)
			logger.Infof("Connected to Redis: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// Optional global rate limiter (per-user when authenticated, otherwise per-IP)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// OIDC verifier for the federated identity provider. Falls back to
	// payload-only parsing in integration mode.
	var verifier identity.TokenVerifier
	if cfg.Provider.Issuer != "" && cfg.Provider.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.Provider.Issuer, cfg.Provider.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
		}
	}
	if verifier == nil {
		if strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN"))) == "true" {
			logger.Warn("enabling insecure OIDC verifier (integration mode)")
			verifier = oidc.NewInsecureVerifier()
		}
	}

	// Principal persistence: prefer Redis, fall back to MongoDB.
	var principalRepo identity.Repository
	if redisClient != nil {
		principalRepo = identity.NewRedisRepository(redisClient, "principal:", cfg.JWT.SessionTTL)
		logger.Infof("Using Redis for principal persistence")
	} else if cfg.MongoDB.URI != "" {
		// Retry/backoff when connecting to MongoDB to tolerate startup races
		const maxAttempts = 5
		backoff := time.Second
		var client *mongo.Client
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			client, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
		} else {
			defer func() { _ = client.Disconnect(ctx) }()
			col := client.Database(cfg.MongoDB.Database).Collection("principals")
			principalRepo = identity.NewMongoRepository(col)
			logger.Infof("Using MongoDB for principal persistence")
		}
	}
	if principalRepo == nil {
		logger.Warnf("no principal persistence configured; sessions will not survive restarts")
	}

	// Reconciliation core
	gw := gateway.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	cache := accounts.New(gw)
	bus := binding.NewBus()
	// the web client opens the consent popup itself; the surface only logs
	surface := binding.SurfaceFunc(func(p platform.Platform, authorizeURL string) error {
		logger.Infof("authorization surface for %s: %s (%dx%d)", p, authorizeURL, binding.PopupWidth, binding.PopupHeight)
		return nil
	})
	ctrl := binding.NewController(gw, cache, bus, surface, handlers.ContextConfirmer(), cfg.Backend.Origin, cfg.Binding.Timeout)

	ids := identity.NewStore(verifier, principalRepo, cfg.Provider.Name)
	res := resolver.New(ids, cache)
	res.Start(ctx)
	ids.Initialize(ctx)

	// Best-effort avatar mirroring into MinIO
	if cfg.MinIO.Endpoint != "" {
		store, err := storage.NewMinIOStorage(&cfg.MinIO)
		if err != nil {
			logger.Warnf("MinIO unavailable, avatar mirroring disabled: %v", err)
		} else {
			avatars.NewMirror(store).Attach(cache)
			logger.Infof("Avatar mirroring enabled: %s/%s", cfg.MinIO.Endpoint, cfg.MinIO.Bucket)
		}
	}

	// Basic health endpoint
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness endpoint — return 200 only when critical dependencies are available
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		deps["identity"] = ids.Initialized()
		if !deps["identity"] {
			ready = false
		}

		// OIDC readiness: when an issuer is configured we expect a verifier
		// (or ALLOW_INSECURE_TOKEN)
		if cfg.Provider.Issuer != "" {
			deps["oidc"] = verifier != nil
			if !deps["oidc"] {
				ready = false
			}
		} else {
			deps["oidc"] = true
		}

		// Redis readiness when required for the rate limiter
		if cfg.Redis.Host != "" && cfg.RateLimit.UseRedis {
			deps["redis"] = redisClient != nil
			if !deps["redis"] {
				ready = false
			}
		} else {
			deps["redis"] = true
		}

		// first status refresh attempt completed, successfully or not
		deps["accounts"] = cache.Attempted()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": time.Since(startTime).String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String()})
	})

	h := handlers.NewAuthHandler(cfg, ids, cache, ctrl, res, bus, gw)
	h.Register(r.Group("/"))

	// Session-token protected surface
	api := r.Group("/api/v1")
	api.GET("/me", middleware.AuthMiddleware(tokens.NewSessionVerifier(cfg.JWT.Secret)), func(c *gin.Context) {
		if u := res.ResolvedUser(); u != nil {
			c.JSON(http.StatusOK, gin.H{"user": u})
			return
		}
		// fallback: return the token's own claims
		claims, _ := c.Get("claims")
		c.JSON(http.StatusOK, gin.H{"claims": claims})
	})

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("Starting account service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
