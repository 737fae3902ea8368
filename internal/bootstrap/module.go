package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"julesq/internal/bootstrap/config"
	"julesq/internal/bootstrap/database"
	"julesq/internal/bootstrap/logging"
	"julesq/internal/domain/tasks"
	cacheinfra "julesq/internal/infrastructure/cache"
	githubinfra "julesq/internal/infrastructure/github"
	sqliterepo "julesq/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "julesq/internal/infrastructure/persistence/sqlite/uow"
	"julesq/internal/infrastructure/secrets"
	"julesq/internal/ports"
	installationsuc "julesq/internal/usecase/installations"
	tasksuc "julesq/internal/usecase/tasks"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewWorkItemRepository,
			fx.As(new(ports.WorkItemRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewInstallationRepository,
			fx.As(new(ports.InstallationRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(provideGateway),
	fx.Provide(provideSecretCipher),
	fx.Provide(provideTaskService),
	fx.Provide(installationsuc.NewService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideGateway(cfg config.Config) ports.Gateway {
	return githubinfra.NewGateway(githubinfra.Config{
		AppID:          cfg.GitHub.AppID,
		PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
		APIBaseURL:     cfg.GitHub.APIBaseURL,
	})
}

// provideSecretCipher returns nil when no token key is configured; stored
// user tokens are then written as-is.
func provideSecretCipher(cfg config.Config) (ports.SecretCipher, error) {
	if cfg.Secrets.TokenKey == "" {
		return nil, nil
	}
	return secrets.NewAESCipher(cfg.Secrets.TokenKey)
}

func provideTaskService(cfg config.Config, repo ports.WorkItemRepository, uow ports.UnitOfWork, gateway ports.Gateway, cache ports.Cache) (*tasksuc.Service, error) {
	matcher, err := tasksuc.LoadPatternsProfile(cfg.Classify.PatternsFile)
	if err != nil {
		return nil, err
	}

	return tasksuc.NewService(repo, uow, gateway, cache, tasksuc.Config{
		Labels: tasks.Labels{
			Active:        cfg.Labels.Active,
			Queued:        cfg.Labels.Queued,
			HumanOverride: cfg.Labels.HumanOverride,
		},
		Thresholds: tasks.Thresholds{
			MinConfidence: cfg.Classify.MinConfidence,
			MaxAgeMinutes: cfg.Classify.MaxAgeMinutes,
		},
		BotLogin:          cfg.GitHub.BotLogin,
		FallbackUserToken: cfg.GitHub.UserToken,
		Matcher:           matcher,
	}), nil
}
