package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Expiry ExpiryConfig `mapstructure:"expiry"`
	Rarity RarityConfig `mapstructure:"rarity"`
	Market MarketConfig `mapstructure:"market"`
	Notify NotifyConfig `mapstructure:"notify"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	Prefix       string        `mapstructure:"prefix"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ClaimBatch   int           `mapstructure:"claim_batch"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type ExpiryConfig struct {
	// Surplus absorbs clock skew and on-chain confirmation lag so an
	// order is never expired before the chain agrees it is expired.
	Surplus       time.Duration `mapstructure:"surplus"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	SweepBatch    int           `mapstructure:"sweep_batch"`
}

type RarityConfig struct {
	// Debounce collapses bursts of generation requests for the same
	// collection into a single run.
	Debounce time.Duration `mapstructure:"debounce"`
}

type MarketConfig struct {
	DefaultChain    string `mapstructure:"default_chain"`
	DefaultCurrency string `mapstructure:"default_currency"`
	AllowAllOwners  bool   `mapstructure:"allow_all_owners"`
}

type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.prefix", "hexagon")
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.claim_batch", 32)
	v.SetDefault("queue.retry_base", "5s")
	v.SetDefault("queue.retry_max", "10m")
	v.SetDefault("queue.max_attempts", 0)
	v.SetDefault("expiry.surplus", "30s")
	v.SetDefault("expiry.sweep_schedule", "@every 1m")
	v.SetDefault("expiry.sweep_batch", 200)
	v.SetDefault("rarity.debounce", "10s")
	v.SetDefault("market.default_chain", "eth")
	v.SetDefault("market.allow_all_owners", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
