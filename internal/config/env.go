package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Env holds the process settings read from the environment
type Env struct {
	ConfigPath    string
	ControlAddr   string
	NATSURL       string
	NATSSubject   string
	RedisAddr     string
	RedisChannel  string
	MQTTBroker    string
	MQTTTopic     string
	StatsInterval time.Duration
	LogLevel      slog.Level
	LogFormat     string
	AutoConnect   bool
}

// LoadEnv loads the configuration from environment variables and .env file
func LoadEnv() (*Env, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	env := &Env{
		ConfigPath:   getenv("CONFIG_PATH", "./nmea-bridge.json"),
		ControlAddr:  getenv("CONTROL_ADDR", ":8080"),
		NATSURL:      os.Getenv("NATS_URL"),
		NATSSubject:  getenv("NATS_SUBJECT", "nmea.records"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisChannel: getenv("REDIS_CHANNEL", "nmea:records"),
		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		MQTTTopic:    getenv("MQTT_TOPIC", "nmea/records"),
		LogFormat:    strings.ToLower(getenv("LOG_FORMAT", "text")),
	}

	interval, err := time.ParseDuration(getenv("STATS_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_INTERVAL: %w", err)
	}
	env.StatsInterval = interval

	autoConnect, err := strconv.ParseBool(getenv("AUTO_CONNECT", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_CONNECT: %w", err)
	}
	env.AutoConnect = autoConnect

	if err := env.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	switch env.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: must be text or json", env.LogFormat)
	}

	return env, nil
}

// NewLogger builds the process logger described by the environment
func (e *Env) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: e.LogLevel}
	if e.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
