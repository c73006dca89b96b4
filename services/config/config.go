package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"sensorcode-go/bus"
	"sensorcode-go/types"
)

// -----------------------------------------------------------------------------
// String constants
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = ctxKey("device") // context key used for the board name
)

type ctxKey string

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string

	path      string
	overrides map[string]any
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName, overrides: map[string]any{}}
}

// FromFile makes the service read path instead of the embedded board config.
func (s *ConfigService) FromFile(path string) *ConfigService {
	s.path = path
	return s
}

// Override replaces the document under key before publishing.
func (s *ConfigService) Override(key string, v any) *ConfigService {
	s.overrides[key] = v
	return s
}

func (s *ConfigService) source(ctx context.Context) ([]byte, error) {
	if s.path != "" {
		raw, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return raw, nil
	}
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return nil, errors.New("missing device ID in context")
	}
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, errors.New("no embedded config for device: " + device)
	}
	return raw, nil
}

// Load returns the top-level documents keyed by name. "hal" is decoded into
// types.HALConfig; everything else stays a generic JSON value.
func (s *ConfigService) Load(ctx context.Context) (map[string]any, error) {
	raw, err := s.source(ctx)
	if err != nil {
		return nil, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("config is not a JSON object: %w", err)
	}

	out := make(map[string]any, len(top)+len(s.overrides))
	for k, v := range top {
		if k == "hal" {
			var hc types.HALConfig
			if err := json.Unmarshal(v, &hc); err != nil {
				return nil, fmt.Errorf("config/hal: %w", err)
			}
			out[k] = hc
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, fmt.Errorf("config/%s: %w", k, err)
		}
		out[k] = val
	}
	for k, v := range s.overrides {
		out[k] = v
	}
	return out, nil
}

// Publish loads the config and publishes each key as a retained message on
// config/<key>.
func (s *ConfigService) Publish(ctx context.Context, conn *bus.Connection) error {
	m, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for k, v := range m {
		conn.Publish(&bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  v,
			Retained: true,
		})
	}
	return nil
}

// Start launches the config publisher in a goroutine. The returned channel
// yields the publish result once.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Publish(ctx, conn)
	}()
	return done
}
