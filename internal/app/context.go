package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sunline/internal/config"
	"sunline/internal/db"
	"sunline/internal/domain"
	"sunline/internal/engine"
	"sunline/internal/migrate"
	"sunline/internal/provider"
	"sunline/internal/repo"
)

// App bundles everything a command needs: an open store, a ready
// engine, and the firm the workspace is bound to.
type App struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
	Firm   domain.Firm
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Open opens the workspace database, applies migrations, loads
// sunline.yml, and resolves the workspace firm, creating it on first
// use. The firm named in config is the CLI's default tenant.
func Open(ctx context.Context, workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("")
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	firm, err := resolveFirm(ctx, r, cfg.Firm.Name)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	if cfg.Provider.BaseURL != "" {
		e.Provider = provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey,
			time.Duration(cfg.Provider.TimeoutSeconds)*time.Second)
	}
	return &App{DB: conn, Engine: e, Config: cfg, Firm: firm}, nil
}

// resolveFirm finds the firm by name, seeding it if the workspace is
// fresh.
func resolveFirm(ctx context.Context, r repo.Repo, name string) (domain.Firm, error) {
	if name == "" {
		name = "default"
	}
	firms, err := r.ListFirms(ctx)
	if err != nil {
		return domain.Firm{}, err
	}
	for _, f := range firms {
		if f.Name == name {
			return f, nil
		}
	}
	f, err := r.InsertFirm(ctx, name)
	if err != nil {
		return domain.Firm{}, fmt.Errorf("seed firm %q: %w", name, err)
	}
	return f, nil
}
