package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bandpassrecords/scgate/config"
	"github.com/bandpassrecords/scgate/core/auth"
	"github.com/bandpassrecords/scgate/core/gate"
	"github.com/bandpassrecords/scgate/core/session"
	"github.com/bandpassrecords/scgate/core/soundcloud"
	"github.com/bandpassrecords/scgate/db"
	"github.com/bandpassrecords/scgate/logger"
	"github.com/bandpassrecords/scgate/model"
	"github.com/bandpassrecords/scgate/repository"
	"github.com/bandpassrecords/scgate/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
	})

	auth.SetJWTSecret(cfg.JWTSecret)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // downloads stream large files
		IdleTimeout:  120 * time.Second,
	}

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("Failed to initialize MinIO", logger.ErrorField(err))
	}

	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database (gorm)", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("Failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()
	logger.Info("Successfully connected to Redis")

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		logger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if err := db.AutoMigrateModels(&model.User{}); err != nil {
		logger.Fatal("Failed to migrate account tables", logger.ErrorField(err))
	}

	trackRepo := repository.NewMySQLTrackRepository()
	targetRepo := repository.NewMySQLFollowTargetRepository()
	accessRepo := repository.NewMySQLAccessRepository()
	userRepo := repository.NewGormUserRepository(db.GormDB)

	sc := soundcloud.NewClient(cfg.SoundCloudClientID, cfg.SoundCloudClientSecret, cfg.SoundCloudOAuthScope)
	if !sc.Configured() {
		logger.Warn("SoundCloud OAuth credentials missing, gates will render but cannot verify")
	}

	sessions := session.NewStore(db.RedisClient)
	verifier := gate.NewVerifier(sc, trackRepo, targetRepo, accessRepo)

	apiHandler := NewAPIHandler(trackRepo, targetRepo, accessRepo, userRepo, sc, sessions, verifier, cfg)

	router := mux.NewRouter()

	// CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Owner account endpoints
	router.HandleFunc("/api/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// Owner gate management
	router.HandleFunc("/api/my/gates", apiHandler.AuthMiddleware(apiHandler.GetMyGatesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/my/gates", apiHandler.AuthMiddleware(apiHandler.CreateGateHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/my/gates/{public_id}", apiHandler.AuthMiddleware(apiHandler.UpdateGateHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/my/gates/{public_id}", apiHandler.AuthMiddleware(apiHandler.DeleteGateHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/my/gates/{public_id}/file", apiHandler.AuthMiddleware(apiHandler.UploadGateFileHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/my/gates/{public_id}/targets", apiHandler.AuthMiddleware(apiHandler.AddFollowTargetHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/my/gates/{public_id}/targets/{target_id}", apiHandler.AuthMiddleware(apiHandler.RemoveFollowTargetHandler)).Methods(http.MethodDelete)

	// Public gate endpoints
	router.HandleFunc("/api/gates", apiHandler.BrowseGatesHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/gates/{public_id}", apiHandler.ViewGateHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/gates/{public_id}/download", apiHandler.DownloadHandler).Methods(http.MethodGet)

	// SoundCloud OAuth round-trip. /authorize aliases the callback for apps
	// registered with the fixed production redirect URI.
	router.HandleFunc("/api/gates/{public_id}/soundcloud/connect", apiHandler.ConnectHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/soundcloud/callback", apiHandler.CallbackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/soundcloud/authorize", apiHandler.CallbackHandler).Methods(http.MethodGet)

	// Fan actions, POST only
	router.HandleFunc("/api/gates/{public_id}/soundcloud/like", apiHandler.LikeActionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/gates/{public_id}/soundcloud/comment", apiHandler.CommentActionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/gates/{public_id}/soundcloud/follow", apiHandler.FollowActionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/gates/{public_id}/soundcloud/follow/{target_id}", apiHandler.FollowTargetActionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/gates/{public_id}/soundcloud/logout", apiHandler.LogoutHandler).Methods(http.MethodPost)

	server.Handler = router

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}
