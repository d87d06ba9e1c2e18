package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"project-canvas/auth"
	"project-canvas/internal/blob"
	"project-canvas/internal/canvas"
	"project-canvas/internal/config"
	"project-canvas/internal/db"
	"project-canvas/internal/hub"
	"project-canvas/internal/imagegen"
	"project-canvas/internal/logging"
	"project-canvas/internal/middleware"
	"project-canvas/internal/permission"
	"project-canvas/internal/user"
	"project-canvas/internal/worker"
	appredis "project-canvas/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig
	logging.Setup(cfg.Environment, cfg.LogLevel)

	// Connect to database
	database, err := db.ConnectDb(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.CloseDb(database)

	// Migrate database schema
	if err := db.Migrate(database); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Seed database with initial data (for development)
	if cfg.Environment == "development" {
		if err := db.SeedData(database); err != nil {
			log.Error().Err(err).Msg("failed to seed database")
		}
	}

	// Redis is optional, nil means single instance
	redisClient := appredis.NewClient(cfg.RedisAddress)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	blobs, localDir := openBlobStore(ctx, cfg)

	pool := worker.NewWorkerPool(cfg.WorkerPoolSize)
	images := imagegen.NewPollinationsClient(cfg.ImageServiceURL, cfg.ImageServiceTimeout)

	// Initialize repository
	userRepo := user.NewRepository(database)
	canvasRepo := canvas.NewRepository(database)
	resolver := permission.NewResolver(permission.NewGormMemberRepository(database))

	// Initialize session hub
	access := canvas.NewAccess(canvasRepo, resolver, cfg.StoreTimeout)
	var hubOpts []hub.Option
	if redisClient != nil {
		hubOpts = append(hubOpts, hub.WithBus(hub.NewRedisBus(redisClient)))
	}
	sessions := hub.New(access, hubOpts...)
	go func() {
		if err := sessions.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("hub relay stopped")
		}
	}()

	// Initialize service
	userService := user.NewService(userRepo)
	canvasService := canvas.NewService(canvasRepo, access, blobs, images, sessions, pool)

	// Initialize handler
	canvasHandler := canvas.NewHandler(canvasService, cfg.MaxUploadBytes)
	wsHandler := hub.NewHandler(sessions, cfg.FrontendAddress)
	authMw := &middleware.Auth{
		UserService: userService,
		Tokens:      auth.NewTokens(cfg.JWTSecret, 0),
	}

	// Initialize Gin router
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if cfg.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{cfg.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if localDir != "" {
		router.Static(cfg.UploadURLPrefix, localDir)
	}

	authed := router.Group("/", authMw.AuthMiddleWare())
	canvasHandler.RegisterRoutes(authed)
	authed.GET("/ws", wsHandler.Serve)

	// Server configuration
	serverPort := cfg.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Info().Str("port", serverPort).Msg("server listening")
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	stop()
	sessions.Close()
	pool.Shutdown()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
	}
	log.Info().Msg("server shutdown complete")
}

// openBlobStore returns the upload store and, for the local backend, the
// directory to serve statically.
func openBlobStore(ctx context.Context, cfg config.Config) (blob.Store, string) {
	if cfg.BlobBackend == "minio" {
		store, err := blob.NewMinio(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open minio store")
		}
		return store, ""
	}

	store, err := blob.NewLocal(cfg.UploadDir, cfg.UploadURLPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open upload directory")
	}
	return store, store.Dir()
}
