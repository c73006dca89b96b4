// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	// Board selects the embedded HAL/bridge document; BoardConfig, when set,
	// is a JSON file used instead.
	Board       string
	BoardConfig string

	// I2CBuses maps logical bus ids to periph bus names, "i2c1=1,i2c0=0".
	I2CBuses string

	// MQTTBroker, when set, overrides the bridge transport from the board config.
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTPrefix   string

	// SQLitePath empty disables the reading store.
	SQLitePath string
	Retention  time.Duration
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	portStr := env("MQTT_PORT", "1883")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q", portStr)
	}

	retStr := env("STORE_RETENTION", "0s")
	retention, err := time.ParseDuration(retStr)
	if err != nil || retention < 0 {
		return Config{}, fmt.Errorf("invalid STORE_RETENTION %q", retStr)
	}

	return Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		Board:        env("BOARD", "rpi"),
		BoardConfig:  env("BOARD_CONFIG", ""),
		I2CBuses:     env("I2C_BUS", "i2c1=1"),
		MQTTBroker:   env("MQTT_BROKER", ""),
		MQTTPort:     port,
		MQTTClientID: env("MQTT_CLIENT_ID", "sensord"),
		MQTTPrefix:   env("MQTT_PREFIX", ""),
		SQLitePath:   env("SQLITE_PATH", ""),
		Retention:    retention,
	}, nil
}

// BridgeOverride returns the config/bridge document implied by the MQTT_*
// variables, or nil when MQTT_BROKER is unset.
func (c Config) BridgeOverride() map[string]any {
	if c.MQTTBroker == "" {
		return nil
	}
	doc := map[string]any{
		"transport": map[string]any{
			"type": "mqtt",
			"mqtt": map[string]any{
				"broker":    c.MQTTBroker,
				"port":      c.MQTTPort,
				"client_id": c.MQTTClientID,
			},
		},
	}
	if c.MQTTPrefix != "" {
		doc["prefix"] = c.MQTTPrefix
	}
	return doc
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
