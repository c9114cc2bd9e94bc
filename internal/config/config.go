package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API struct {
		Listen                 string        `mapstructure:"listen"`
		MaxMessageBytes        int64         `mapstructure:"max_message_bytes"`
		BroadcastRate          float64       `mapstructure:"broadcast_rate"`
		BroadcastBurst         int           `mapstructure:"broadcast_burst"`
		WriteTimeoutSeconds    int           `mapstructure:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int           `mapstructure:"shutdown_timeout_seconds"`
		WriteTimeout           time.Duration `mapstructure:"-"`
		ShutdownTimeout        time.Duration `mapstructure:"-"`
	} `mapstructure:"api"`

	Token struct {
		Secret      string `mapstructure:"secret"`
		IncludePort bool   `mapstructure:"include_port"`
	} `mapstructure:"token"`

	DB struct {
		DSN      string `mapstructure:"dsn"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`

	Recorder struct {
		Queue int `mapstructure:"queue"`
	} `mapstructure:"recorder"`

	Redis struct {
		URL     string `mapstructure:"url"`
		Channel string `mapstructure:"channel"`
	} `mapstructure:"redis"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("api.max_message_bytes", 64<<10)
	v.SetDefault("api.broadcast_rate", 0)
	v.SetDefault("api.broadcast_burst", 20)
	v.SetDefault("api.write_timeout_seconds", 10)
	v.SetDefault("api.shutdown_timeout_seconds", 10)
	v.SetDefault("token.secret", "")
	v.SetDefault("token.include_port", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("recorder.queue", 1024)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "relay:broadcast")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Env overrides
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()
	_ = v.BindEnv("db.dsn", "RELAY_DB_DSN")
	_ = v.BindEnv("api.listen", "RELAY_API_LISTEN")
	_ = v.BindEnv("redis.url", "RELAY_REDIS_URL")
	_ = v.BindEnv("token.secret", "RELAY_TOKEN_SECRET")
	_ = v.BindEnv("log.level", "RELAY_LOG_LEVEL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.API.WriteTimeout = time.Duration(c.API.WriteTimeoutSeconds) * time.Second
	c.API.ShutdownTimeout = time.Duration(c.API.ShutdownTimeoutSeconds) * time.Second

	if c.API.Listen == "" {
		return nil, fmt.Errorf("api.listen is required")
	}
	if c.API.MaxMessageBytes <= 0 {
		return nil, fmt.Errorf("api.max_message_bytes must be positive")
	}
	if c.API.BroadcastRate < 0 {
		return nil, fmt.Errorf("api.broadcast_rate must not be negative")
	}
	return &c, nil
}
