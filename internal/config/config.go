// Package config loads bidwatch settings via Viper. Values come from an
// optional config file, BIDWATCH_* environment variables and the legacy
// unprefixed variables the scheduled jobs already export.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingCredential marks a required credential or endpoint that is absent.
// It is the only error kind that aborts a run before records are processed.
var ErrMissingCredential = errors.New("missing required credential")

// Config is built once at process entry and passed down explicitly.
type Config struct {
	Documents  DocumentsConfig  `mapstructure:"documents"`
	// Registry overrides the embedded portal registry when set.
	Registry   string           `mapstructure:"registry"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Window     WindowConfig     `mapstructure:"window"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	DB         DBConfig         `mapstructure:"db"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type DocumentsConfig struct {
	Openings  string `mapstructure:"openings"`
	Bulletins string `mapstructure:"bulletins"`
}

// ClassifierConfig describes the remote chat-completion service.
type ClassifierConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
	CallInterval time.Duration `mapstructure:"call_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffStart time.Duration `mapstructure:"backoff_start"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
}

type ExtractConfig struct {
	AcceptedTypes []string `mapstructure:"accepted_types"`
}

// WindowConfig sets the ingestion windows in days and the civil zone "today" is computed in.
type WindowConfig struct {
	Timezone      string `mapstructure:"timezone"`
	OpeningsDays  int    `mapstructure:"openings_days"`
	BulletinsDays int    `mapstructure:"bulletins_days"`
}

type NotifyConfig struct {
	BarkKey             string `mapstructure:"bark_key"`
	BarkURL             string `mapstructure:"bark_url"`
	DingTalkWebhookURL  string `mapstructure:"dingtalk_webhook_url"`
	DingTalkAccessToken string `mapstructure:"dingtalk_access_token"`
	DingTalkSecret      string `mapstructure:"dingtalk_secret"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// CORSOrigins are allowed in addition to the local frontend.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// legacyEnv maps config keys to the variable names used by the existing cron setup.
var legacyEnv = map[string]string{
	"classifier.api_key":           "OPENAI_API_KEY",
	"classifier.base_url":          "OPENAI_BASE_URL",
	"classifier.model":             "OPENAI_MODEL",
	"notify.bark_key":              "BARK_KEY",
	"notify.dingtalk_webhook_url":  "DINGTALK_WEBHOOK_URL",
	"notify.dingtalk_access_token": "DINGTALK_ACCESS_TOKEN",
	"notify.dingtalk_secret":       "DINGTALK_SECRET",
	"db.dsn":                       "DATABASE_URL",
	"server.port":                  "PORT",
	"server.cors_origins":          "CORS_ORIGINS",
}

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "BIDWATCH_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("documents.openings", "opening_projects.json")
	v.SetDefault("documents.bulletins", "purchase_bulletins.json")
	v.SetDefault("registry", "")

	v.SetDefault("classifier.base_url", "https://api.siliconflow.cn/v1")
	v.SetDefault("classifier.model", "Qwen/Qwen2.5-72B-Instruct")
	v.SetDefault("classifier.temperature", 0.2)
	v.SetDefault("classifier.top_p", 0.1)
	v.SetDefault("classifier.call_interval", "1s")
	v.SetDefault("classifier.max_attempts", 5)
	v.SetDefault("classifier.backoff_start", "2s")
	v.SetDefault("classifier.backoff_max", "30s")

	v.SetDefault("extract.accepted_types", []string{"信息化建设类项目", "信息化软硬件采购类项目"})

	v.SetDefault("window.timezone", "Asia/Shanghai")
	v.SetDefault("window.openings_days", 3)
	v.SetDefault("window.bulletins_days", 3)

	v.SetDefault("notify.bark_url", "https://api.day.app/push")

	v.SetDefault("server.port", 8081)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("logging.development", false)
}

// Validate checks structural settings. Credentials are checked per stage.
func (c Config) Validate() error {
	if c.Window.OpeningsDays < 0 || c.Window.BulletinsDays < 0 {
		return errors.New("window days must be >= 0")
	}
	if c.Classifier.MaxAttempts <= 0 {
		return errors.New("classifier.max_attempts must be > 0")
	}
	if c.Classifier.BackoffStart <= 0 || c.Classifier.BackoffMax < c.Classifier.BackoffStart {
		return errors.New("classifier backoff must satisfy 0 < backoff_start <= backoff_max")
	}
	return nil
}

// RequireClassifier reports a missing API key for the classification service.
func (c Config) RequireClassifier() error {
	if strings.TrimSpace(c.Classifier.APIKey) == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY (classifier.api_key)", ErrMissingCredential)
	}
	if strings.TrimSpace(c.Classifier.BaseURL) == "" {
		return fmt.Errorf("%w: OPENAI_BASE_URL (classifier.base_url)", ErrMissingCredential)
	}
	return nil
}

// BarkEnabled reports whether the push endpoint has a device key.
func (c NotifyConfig) BarkEnabled() bool {
	return strings.TrimSpace(c.BarkKey) != ""
}

// DingTalkEnabled reports whether the webhook is configured.
func (c NotifyConfig) DingTalkEnabled() bool {
	return strings.TrimSpace(c.DingTalkWebhookURL) != "" && strings.TrimSpace(c.DingTalkAccessToken) != ""
}
