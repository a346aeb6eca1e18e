package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker struct {
		BaseURL string `yaml:"base_url" validate:"omitempty,url"`
		DataURL string `yaml:"data_url" validate:"omitempty,url"`
		Key     string `yaml:"key"`
		Secret  string `yaml:"secret"`
		Paper   bool   `yaml:"paper"`
	} `yaml:"broker"`
	MarketData struct {
		BaseURL string `yaml:"base_url" validate:"omitempty,url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"market_data"`
	News struct {
		BaseURL string `yaml:"base_url" validate:"omitempty,url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"news"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"min=0"`
		// Required makes an unreachable redis a startup failure instead of
		// falling back to the in-process cache and hub.
		Required bool `yaml:"required"`
	} `yaml:"redis"`
	Storage struct {
		Path string `yaml:"path" validate:"required"`
	} `yaml:"storage"`
	Engine     EngineConfig   `yaml:"engine"`
	RateLimits map[string]int `yaml:"rate_limits" validate:"dive,keys,required,endkeys,min=0"`
	Logging    struct {
		Level    string `yaml:"level" validate:"oneof=debug info warn error"`
		Encoding string `yaml:"encoding" validate:"oneof=json console"`
		TradeLog string `yaml:"trade_log"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port" validate:"min=1,max=65535"`
	} `yaml:"server"`
}

type EngineConfig struct {
	SignalGenerationInterval time.Duration `yaml:"signal_generation_interval" validate:"min=1s"`
	SignalExpirationTime     time.Duration `yaml:"signal_expiration_time" validate:"min=1s"`
	PositionUpdateInterval   time.Duration `yaml:"position_update_interval" validate:"min=100ms"`
	MarketDataInterval       time.Duration `yaml:"market_data_interval" validate:"min=1s"`
	HealthCheckInterval      time.Duration `yaml:"health_check_interval" validate:"min=1s"`
	ShutdownGrace            time.Duration `yaml:"shutdown_grace" validate:"min=0"`
	EnableAutoTrading        bool          `yaml:"enable_auto_trading"`
	AutoSellEnabled          bool          `yaml:"auto_sell_enabled"`
	TrailingStopEnabled      bool          `yaml:"trailing_stop_enabled"`
	EnableNewsSentiment      bool          `yaml:"enable_news_sentiment"`
}

// Default returns the settings used for any key the file leaves out.
func Default() *Config {
	cfg := &Config{}
	cfg.Broker.Paper = true
	cfg.Storage.Path = "engine.db"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Engine = EngineConfig{
		SignalGenerationInterval: 300 * time.Second,
		SignalExpirationTime:     300 * time.Second,
		PositionUpdateInterval:   3 * time.Second,
		MarketDataInterval:       60 * time.Second,
		HealthCheckInterval:      300 * time.Second,
		ShutdownGrace:            2 * time.Second,
		AutoSellEnabled:          true,
		TrailingStopEnabled:      true,
		EnableNewsSentiment:      true,
	}
	cfg.RateLimits = map[string]int{
		"alpaca":  200,
		"polygon": 5,
		"news":    1000,
	}
	cfg.Logging.Level = "info"
	cfg.Logging.Encoding = "json"
	cfg.Logging.TradeLog = "trades.log"
	cfg.Server.Port = 8080
	return cfg
}

// Load reads a YAML file over the defaults, applies credential overrides
// from the environment and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg.applyEnv(os.LookupEnv)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, name string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Broker.Key, "ALPACA_API_KEY")
	set(&c.Broker.Secret, "ALPACA_SECRET_KEY")
	set(&c.MarketData.APIKey, "POLYGON_API_KEY")
	set(&c.News.APIKey, "NEWS_API_KEY")
	set(&c.Redis.Addr, "REDIS_ADDR")
	set(&c.Redis.Password, "REDIS_PASSWORD")
}
