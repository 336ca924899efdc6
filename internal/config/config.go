package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StoreRedis = "redis"
	StoreJSON  = "json"
)

type AppConfig struct {
	Env string `yaml:"env" env:"ENV" env-default:"prod"`
	// каталог с базами TDLib, по подкаталогу на сессию
	SessionsDir string `yaml:"sessions_dir" env:"TELEGRAM_SESSIONS_DIR" env-required:"true"`
	// уровень логов самой TDLib
	TDLibVerbosity int32        `yaml:"tdlib_verbosity" env:"TDLIB_VERBOSITY" env-default:"1"`
	SimulateTyping bool         `yaml:"simulate_typing" env:"SIMULATE_TYPING"`
	Device         DeviceConfig `yaml:"device"`

	Store StoreConfig `yaml:"store"`

	Promotion PromotionConfig `yaml:"promotion"`

	SendRate     float64       `yaml:"send_rate" env:"SEND_RATE" env-default:"1"`
	SendBurst    int           `yaml:"send_burst" env:"SEND_BURST" env-default:"3"`
	ChallengeTTL time.Duration `yaml:"challenge_ttl" env:"CHALLENGE_TTL" env-default:"10m"`

	// если пусто, метрики не отдаются
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

// DeviceConfig задаёт, как аккаунты представляются серверам Telegram.
type DeviceConfig struct {
	DeviceModel   string `yaml:"device_model" env:"TG_DEVICE_MODEL"`
	SystemVersion string `yaml:"system_version" env:"TG_SYSTEM_VERSION"`
	AppVersion    string `yaml:"app_version" env:"TG_APP_VERSION"`
	LangCode      string `yaml:"lang_code" env:"TG_LANG_CODE"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" env:"STORE_KIND" env-default:"redis"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	RedisPrefix   string `yaml:"redis_prefix" env:"REDIS_PREFIX" env-default:"tgbot:"`

	// для kind=json
	JSONDir string `yaml:"json_dir" env:"STORE_JSON_DIR" env-default:"./accounts"`
}

type PromotionConfig struct {
	PacingDelay   time.Duration `yaml:"pacing_delay" env:"PROMOTION_PACING_DELAY" env-default:"5s"`
	RecoveryDelay time.Duration `yaml:"recovery_delay" env:"PROMOTION_RECOVERY_DELAY" env-default:"60s"`
}

// Load читает конфиг из файла (флаг -config или CONFIG_PATH) и переменных
// окружения. Без файла берутся только переменные окружения.
func Load() (*AppConfig, error) {
	return LoadPath(fetchConfigPath())
}

func LoadPath(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Store.Kind {
	case StoreRedis, StoreJSON:
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if c.SendRate <= 0 {
		return errors.New("send_rate must be positive")
	}
	if c.Promotion.PacingDelay <= 0 || c.Promotion.RecoveryDelay <= 0 {
		return errors.New("promotion delays must be positive")
	}
	return nil
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	if flag.Lookup("config") == nil {
		flag.StringVar(&res, "config", "", "path to config file")
	}
	if !flag.Parsed() {
		flag.Parse()
	}
	if f := flag.Lookup("config"); f != nil && res == "" {
		res = f.Value.String()
	}

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}
