package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	SignalURL string `mapstructure:"signal_url"`
	APIURL    string `mapstructure:"api_url"`
	AuthToken string `mapstructure:"auth_token"`
	JWTSecret string `mapstructure:"jwt_secret"`
	HistoryDB string `mapstructure:"history_db"`

	// Matchmaking knobs.
	JoinTimeout     time.Duration `mapstructure:"join_timeout"`
	DesyncRetryWait time.Duration `mapstructure:"desync_retry_wait"`
	SkipDebounce    time.Duration `mapstructure:"skip_debounce"`
	RequeueDelay    time.Duration `mapstructure:"requeue_delay"`
	CancelledDelay  time.Duration `mapstructure:"cancelled_delay"`

	// Reconnection knobs.
	RejoinAttempts  int           `mapstructure:"rejoin_attempts"`
	RejoinInterval  time.Duration `mapstructure:"rejoin_interval"`
	IndicatorFloor  time.Duration `mapstructure:"indicator_floor"`
	StaleThreshold  time.Duration `mapstructure:"stale_threshold"`
	QualityInterval time.Duration `mapstructure:"quality_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("signal_url", "ws://localhost:8080/ws/signal")
	v.SetDefault("api_url", "http://localhost:8080/api")
	v.SetDefault("history_db", "history.db")

	v.SetDefault("join_timeout", "10s")
	v.SetDefault("desync_retry_wait", "1s")
	v.SetDefault("skip_debounce", "2s")
	v.SetDefault("requeue_delay", "300ms")
	v.SetDefault("cancelled_delay", "1s")

	v.SetDefault("rejoin_attempts", 10)
	v.SetDefault("rejoin_interval", "2s")
	v.SetDefault("indicator_floor", "3s")
	v.SetDefault("stale_threshold", "2m")
	v.SetDefault("quality_interval", "2s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
