package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"devin-backend/internal/analyses"
	"devin-backend/internal/devin"
	"devin-backend/internal/issues"
	"devin-backend/internal/services/health"
	"devin-backend/internal/shared/config"
	"devin-backend/internal/shared/server"
	"devin-backend/internal/shared/storage/db"
	"devin-backend/internal/tasks"
)

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Repo            analyses.Repo
	Gateway         devin.Gateway
	Issues          issues.Lister
	Tasks           *tasks.Registry
	Poller          *analyses.Poller
	Service         *analyses.Service
	Health          *health.Service
	AnalysisHandler *analyses.Handler
	IssuesHandler   *issues.Handler
}

// Build prepares shared dependencies and the router. Pollers are not resumed here.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB, repo, err := BuildRepo(ctx, cfg, db.DefaultServerOptions())
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		DB:      sqlDB,
		Repo:    repo,
		Gateway: BuildGateway(cfg),
		Issues:  BuildIssues(cfg),
		Tasks:   tasks.NewRegistry(),
	}

	app.Poller = &analyses.Poller{
		Interval:    cfg.PollInterval,
		MaxDuration: cfg.PollMaxDuration,
	}
	app.Service = analyses.NewService(app.Repo, app.Gateway, app.Poller, app.Tasks)
	app.Health = health.NewService(app.Repo)
	app.AnalysisHandler = analyses.NewHandler(app.Service)
	if app.Issues != nil {
		app.IssuesHandler = issues.NewHandler(app.Issues)
	} else {
		app.IssuesHandler = &issues.Handler{}
	}

	if app.AnalysisHandler == nil || app.IssuesHandler == nil {
		return nil, errors.New("failed to initialize handlers")
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		AnalysisHandler: app.AnalysisHandler,
		IssuesHandler:   app.IssuesHandler,
		Health:          app.Health,
	})
	return app, nil
}

// Close stops running pollers and releases the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Tasks != nil {
		if err := a.Tasks.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tasks: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// BuildRepo opens the configured store and applies migrations.
// The returned *sql.DB is nil for the memory store.
func BuildRepo(ctx context.Context, cfg config.Config, defaults db.Options) (*sql.DB, analyses.Repo, error) {
	opts := db.OptionsFromEnv(defaults)

	switch cfg.StoreType {
	case config.StoreMemory:
		log.Printf("bootstrap: STORE=memory; records are lost on restart")
		return nil, analyses.NewMemoryRepo(), nil

	case config.StorePostgres:
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx, sqlDB, db.DialectPostgres); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return sqlDB, analyses.NewPGRepo(sqlDB), nil

	default:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, opts)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx, sqlDB, db.DialectSQLite); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return sqlDB, analyses.NewSQLiteRepo(sqlDB), nil
	}
}

// BuildGateway returns the session API client, or a gateway that fails every
// call when DEVIN_API_KEY is unset.
func BuildGateway(cfg config.Config) devin.Gateway {
	client, err := devin.NewClient(cfg.DevinAPIBase, cfg.DevinAPIKey)
	if err != nil {
		log.Printf("bootstrap: devin client unavailable; session starts will fail: %v", err)
		return devin.Unconfigured{}
	}
	return client
}

// BuildIssues returns the GitHub client, or nil when GITHUB_TOKEN is unset.
func BuildIssues(cfg config.Config) issues.Lister {
	client, err := issues.NewClient(cfg.GitHubAPIBase, cfg.GitHubToken)
	if err != nil {
		log.Printf("bootstrap: github client unavailable: %v", err)
		return nil
	}
	return client
}
