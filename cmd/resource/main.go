package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/klaragautier/microservices/internal/config"
	"github.com/klaragautier/microservices/internal/tokens"
	"github.com/klaragautier/microservices/pkg/logger"
	"github.com/klaragautier/microservices/pkg/middleware"
)

// A resource service that trusts access tokens minted by the auth service.
// It shares JWT_SECRET and never talks to the refresh-token store.
func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	issuer, err := tokens.NewIssuer(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	if err != nil {
		logger.Fatalf("token issuer: %v", err)
	}

	port := os.Getenv("RESOURCE_SERVICE_PORT")
	if port == "" {
		port = "5010"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(issuer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Infof("resource service listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown: %v", err)
	}
}

func newRouter(ver middleware.Verifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CORS())
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "healthy") })

	api := r.Group("/api/v1", middleware.AuthMiddleware(ver))
	api.GET("/whoami", func(c *gin.Context) {
		claims, _ := c.Get(middleware.ClaimsKey)
		c.JSON(http.StatusOK, gin.H{"user": middleware.Username(c), "claims": claims})
	})
	return r
}
