package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"archive-backend/internal/archive"
	"archive-backend/internal/drawings"
	"archive-backend/internal/lenses"
	"archive-backend/internal/llm"
	"archive-backend/internal/llm/anthropic"
	"archive-backend/internal/prompts"
	"archive-backend/internal/shared/config"
	"archive-backend/internal/shared/metrics"
	"archive-backend/internal/shared/server/middleware"
	"archive-backend/internal/shared/server/respond"
	"archive-backend/internal/shared/storage/db"
	"archive-backend/internal/users"
)

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(cfg config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	// Dependencies
	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		dbConn, err := db.Connect(context.Background(), cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			log.Printf("failed to connect database, falling back to memory: %v", err)
		} else {
			if err := db.RunMigrations(context.Background(), dbConn); err != nil {
				log.Printf("failed to run migrations, falling back to memory: %v", err)
				dbConn = nil
			}
		}
		sqlDB = dbConn
	}

	var (
		userRepo    users.Repo
		drawingRepo drawings.Repo
		lensRepo    lenses.Repo
		runRepo     archive.Repo
	)
	if sqlDB != nil {
		userRepo = &users.PGRepo{DB: sqlDB}
		drawingRepo = &drawings.PGRepo{DB: sqlDB}
		lensRepo = &lenses.PGRepo{DB: sqlDB}
		runRepo = &archive.PGRepo{DB: sqlDB}
	} else {
		userRepo = users.NewMemoryRepo()
		memDrawings := drawings.NewMemoryRepo()
		drawingRepo = memDrawings
		lensRepo = lenses.NewMemoryRepo(memDrawings)
		runRepo = archive.NewMemoryRepo()
	}

	var client llm.Client
	if anthropicClient, err := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.ModelName); err != nil {
		log.Printf("inference disabled: %v", err)
		client = disabledClient{}
	} else {
		client = anthropicClient
	}

	pipeline := archive.NewService(cfg, runRepo, drawingRepo, lensRepo, client, prompts.NewRegistry())

	userHandler := users.NewHandler(userRepo)
	drawingHandler := drawings.NewHandler(drawingRepo)
	lensHandler := lenses.NewHandler(lensRepo, pipeline, cfg.RelevanceThreshold)
	archiveHandler := archive.NewHandler(pipeline, runRepo, lensRepo, cfg.RelevanceThreshold)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	userHandler.RegisterRoutes(api)
	drawingHandler.RegisterRoutes(api)
	lensHandler.RegisterRoutes(api)
	archiveHandler.RegisterRoutes(api)

	r.GET("/metrics", metrics.Handler())

	return r
}

// disabledClient stands in when no API key is configured so the rest of the
// API stays usable.
type disabledClient struct{}

func (disabledClient) CompleteWithImages(context.Context, []llm.Image, string, int) (string, error) {
	return "", errors.New("inference is not configured: set ANTHROPIC_API_KEY")
}

func (disabledClient) CompleteWithText(context.Context, string, int) (string, error) {
	return "", errors.New("inference is not configured: set ANTHROPIC_API_KEY")
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
