package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/klaragautier/microservices/handlers"
	"github.com/klaragautier/microservices/internal/config"
	"github.com/klaragautier/microservices/internal/database"
	"github.com/klaragautier/microservices/internal/oidc"
	"github.com/klaragautier/microservices/internal/refreshtokens"
	"github.com/klaragautier/microservices/internal/sessions"
	"github.com/klaragautier/microservices/internal/storage"
	"github.com/klaragautier/microservices/internal/tokens"
	"github.com/klaragautier/microservices/pkg/logger"
	"github.com/klaragautier/microservices/pkg/metrics"
	"github.com/klaragautier/microservices/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: backend=%s keycloak=%v mongo=%v redis=%v minio=%v",
		cfg.Store.Backend, cfg.Keycloak.Issuer() != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.MinIO.Endpoint != "")

	issuer, err := tokens.NewIssuer(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	if err != nil {
		logger.Fatalf("token issuer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			if cfg.Store.Backend == config.BackendRedis {
				logger.Fatalf("redis %s unavailable: %v", cfg.Redis.Addr(), err)
			}
			logger.Warnf("redis %s unavailable, optional features disabled: %v", cfg.Redis.Addr(), err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Infof("connected to Redis at %s", cfg.Redis.Addr())
		}
	}

	var mongoClient *mongo.Client
	if cfg.Store.Backend == config.BackendMongo {
		mongoClient, err = database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}

	repo, err := buildRepository(ctx, cfg, mongoClient, redisClient)
	if err != nil {
		logger.Fatalf("refresh token repository: %v", err)
	}
	store := refreshtokens.NewStore(repo, issuer)

	var archive *storage.SnapshotArchive
	if cfg.MinIO.Endpoint != "" {
		objs, err := storage.NewMinIOStorage(ctx, &storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
		})
		if err != nil {
			logger.Warnf("snapshot archive disabled: %v", err)
		} else {
			archive = storage.NewSnapshotArchive(objs, cfg.MinIO.SnapshotKey)
		}
	}
	if archive != nil && cfg.Store.Backend == config.BackendMemory {
		restoreSnapshot(ctx, archive, store)
	} else if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("memory backend without snapshot archive: refresh tokens do not survive a restart")
	}

	svc := sessions.NewService(issuer, store, sessions.Options{
		RevokeFamilyOnReuse: cfg.Store.RevokeFamilyOnReuse,
		Replay:              sessions.NewRedisReplayTracker(redisClient, "replay:refresh:", cfg.Replay.TTL),
	})

	var identity handlers.IdentityVerifier
	if iss := cfg.Keycloak.Issuer(); iss != "" {
		ver, err := oidc.NewVerifier(ctx, iss, cfg.Keycloak.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			identity = ver
		}
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.CORS(), gin.Logger(), gin.Recovery())

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", readyHandler(cfg, mongoClient, redisClient, identity))

	handlers.NewAuthHandler(svc, issuer, identity).Register(r.Group("/"))
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("Starting auth service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown: %v", err)
	}
	if archive != nil && cfg.Store.Backend == config.BackendMemory {
		saveSnapshot(shutdownCtx, archive, store)
	}
}

func buildRepository(ctx context.Context, cfg *config.Config, mc *mongo.Client, rc *redis.Client) (refreshtokens.Repository, error) {
	switch cfg.Store.Backend {
	case config.BackendMongo:
		col := mc.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)
		return refreshtokens.NewMongoRepository(ctx, col)
	case config.BackendRedis:
		return refreshtokens.NewRedisRepository(rc, cfg.Redis.Prefix), nil
	default:
		return refreshtokens.NewMemoryRepository(), nil
	}
}

func restoreSnapshot(ctx context.Context, archive *storage.SnapshotArchive, store *refreshtokens.Store) {
	recs, err := archive.Load(ctx)
	if err != nil {
		logger.Fatalf("load snapshot %s: %v", archive.Key(), err)
	}
	n, err := store.Restore(ctx, recs)
	if err != nil {
		logger.Fatalf("restore snapshot: %v", err)
	}
	logger.Infof("restored %d refresh token records from %s", n, archive.Key())
}

func saveSnapshot(ctx context.Context, archive *storage.SnapshotArchive, store *refreshtokens.Store) {
	recs, err := store.Snapshot(ctx)
	if err != nil {
		logger.Errorf("snapshot refresh tokens: %v", err)
		return
	}
	if err := archive.Save(ctx, recs); err != nil {
		logger.Errorf("save snapshot: %v", err)
		return
	}
	logger.Infof("saved %d refresh token records to %s", len(recs), archive.Key())
}

// readyHandler returns 200 only when the dependencies in use respond.
func readyHandler(cfg *config.Config, mc *mongo.Client, rc *redis.Client, identity handlers.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		ready := true
		deps := map[string]bool{}

		switch cfg.Store.Backend {
		case config.BackendMongo:
			deps["mongo"] = mc != nil && mc.Ping(ctx, nil) == nil
			ready = ready && deps["mongo"]
		case config.BackendRedis:
			deps["redis"] = rc != nil && rc.Ping(ctx).Err() == nil
			ready = ready && deps["redis"]
		default:
			deps["memory"] = true
		}
		if cfg.Keycloak.Issuer() != "" {
			deps["oidc"] = identity != nil
			ready = ready && deps["oidc"]
		}

		uptime := time.Since(startTime).String()
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": uptime})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": uptime})
	}
}
