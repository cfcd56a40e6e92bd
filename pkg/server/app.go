package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
	"github.com/mikeboe/deep-research/pkg/tasks"
)

const shutdownGrace = 30 * time.Second

// App holds everything a process needs to run research: models, search,
// the task store and the lifecycle service.
type App struct {
	Config  *config.Config
	DB      *database.PostgresDB
	Store   tasks.Store
	Service *Service
	Logger  *slog.Logger
}

// NewApp connects the configured backends. The database is optional unless
// the postgres task backend is selected.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	models, err := clients.StageModels(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init models: %w", err)
	}
	searcher, err := tools.NewSearcher(cfg.SearchProvider, cfg.SerperApiKey, cfg.CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to init search: %w", err)
	}

	app := &App{Config: cfg, Logger: logger}

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.InitSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		app.DB = db
	}

	store, err := tasks.Open(ctx, cfg, app.pool())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}
	app.Store = store

	factory := func(l *slog.Logger, hooks RunHooks) (Runner, error) {
		sup, err := research.NewEngine(cfg, models, searcher, l)
		if err != nil {
			return nil, err
		}
		sup.OnStage = func(runID string, stage research.Stage) {
			l.Info("Stage changed", "run_id", runID, "stage", stage.String())
			if hooks.OnStage != nil {
				hooks.OnStage(runID, stage)
			}
		}
		sup.OnIteration = hooks.OnIteration
		return sup, nil
	}
	app.Service = NewService(store, app.DB, factory, logger)
	return app, nil
}

// Close releases the store and the database pool.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("Failed to close task store", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func (a *App) pool() *pgxpool.Pool {
	if a.DB == nil {
		return nil
	}
	return a.DB.Pool
}

// Router builds the gin engine with CORS, the REST API, metrics and MCP.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS Setup
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Allow all for dev
		AllowMethods:     []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	NewHandler(a.Service, NewMCPHandler(NewMCPServer(a.Service))).RegisterRoutes(r)
	return r
}

// Serve recovers interrupted tasks, then serves HTTP until ctx is cancelled
// and drains running tasks before returning.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Service.Recover(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Server starting", "port", a.Config.Port, "task_backend", a.Config.TaskBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	return a.Service.Shutdown(shutdownCtx)
}
