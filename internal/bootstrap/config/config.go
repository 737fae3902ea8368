package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Labels    LabelsConfig    `mapstructure:"labels"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Serve     ServeConfig     `mapstructure:"serve"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type GitHubConfig struct {
	AppID          int64  `mapstructure:"app_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	APIBaseURL     string `mapstructure:"api_base_url"`
	BotLogin       string `mapstructure:"bot_login"`
	UserToken      string `mapstructure:"user_token"`
}

type LabelsConfig struct {
	Active        string `mapstructure:"active"`
	Queued        string `mapstructure:"queued"`
	HumanOverride string `mapstructure:"human_override"`
}

type ClassifyConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	MaxAgeMinutes float64 `mapstructure:"max_age_minutes"`
	PatternsFile  string  `mapstructure:"patterns_file"`
}

type RetryConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type ReconcileConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type SweepConfig struct {
	WorkItemRetentionHours     int `mapstructure:"workitem_retention_hours"`
	InstallationRetentionHours int `mapstructure:"installation_retention_hours"`
}

type ServeConfig struct {
	Addr          string `mapstructure:"addr"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type SecretsConfig struct {
	// TokenKey is the base64-encoded AES key for user-token storage.
	// Empty means tokens are stored as-is.
	TokenKey string `mapstructure:"token_key"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(logCtx, v)

	v.SetEnvPrefix("JQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}
	if cfg.Retry.Concurrency < 1 {
		return Config{}, errors.New("retry.concurrency must be at least 1")
	}
	if cfg.Reconcile.Concurrency < 1 {
		return Config{}, errors.New("reconcile.concurrency must be at least 1")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("bot_login", cfg.GitHub.BotLogin),
	)

	return cfg, nil
}

func setDefaults(ctx context.Context, v *viper.Viper) {
	if ctx == nil {
		return
	}

	v.SetDefault("app.name", "julesq")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".julesq/state/queue.sqlite")
	v.SetDefault("github.app_id", 0)
	v.SetDefault("github.private_key_path", "")
	v.SetDefault("github.api_base_url", "")
	v.SetDefault("github.bot_login", "jules")
	v.SetDefault("github.user_token", "")
	v.SetDefault("labels.active", "jules")
	v.SetDefault("labels.queued", "jules-queue")
	v.SetDefault("labels.human_override", "human")
	v.SetDefault("classify.min_confidence", 0.6)
	v.SetDefault("classify.max_age_minutes", 120)
	v.SetDefault("classify.patterns_file", "")
	v.SetDefault("retry.concurrency", 5)
	v.SetDefault("reconcile.concurrency", 5)
	v.SetDefault("sweep.workitem_retention_hours", 168)
	v.SetDefault("sweep.installation_retention_hours", 720)
	v.SetDefault("serve.addr", ":8088")
	v.SetDefault("serve.webhook_secret", "")
	v.SetDefault("secrets.token_key", "")
}
