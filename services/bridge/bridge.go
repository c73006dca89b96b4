// services/bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sensorcode-go/bus"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		conn:       conn,
		log:        logger.With("service", "bridge"),
		stateTopic: bus.Topic{"bridge", "state"},
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
	// Prefix is prepended to every remote topic. Default "sensorcode".
	Prefix string `json:"prefix,omitempty"`
	// QoS for forwarded messages. Default 1.
	QoS *byte `json:"qos,omitempty"`
	// Forward lists local topic patterns to forward, '/'-separated with + and #.
	// Default: hal/state and hal/capability/#.
	Forward []string `json:"forward,omitempty"`
}

type TransportConfig struct {
	// "mqtt" (provided here) or other names registered via RegisterTransport.
	Type string      `json:"type"`
	MQTT *MQTTConfig `json:"mqtt,omitempty"`
}

type MQTTConfig struct {
	Broker        string `json:"broker"`
	Port          int    `json:"port"`
	ClientID      string `json:"client_id"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	KeepAliveS    int    `json:"keep_alive_s,omitempty"`
	PublishTimeMS int    `json:"publish_timeout_ms,omitempty"`
}

const defaultPrefix = "sensorcode"

var defaultForward = []string{"hal/state", "hal/capability/#"}

func (c Config) qos() byte {
	if c.QoS == nil {
		return 1
	}
	return *c.QoS
}

func (c Config) prefix() string {
	if c.Prefix == "" {
		return defaultPrefix
	}
	return strings.TrimSuffix(c.Prefix, "/")
}

func (c Config) forward() []bus.Topic {
	pats := c.Forward
	if len(pats) == 0 {
		pats = defaultForward
	}
	out := make([]bus.Topic, 0, len(pats))
	for _, p := range pats {
		out = append(out, parseTopic(p))
	}
	return out
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	log        *slog.Logger
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.Topic{"config", "bridge"})
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.log.Warn("bad bridge config", "error", err)
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and forwarding
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport, s.log)
	if err != nil {
		s.log.Error("bridge transport init failed", "error", err)
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link, err := tr.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff()
			s.log.Warn("bridge dial failed", "transport", tr.String(), "error", err, "retry_in", delay)
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.log.Info("bridge link up", "transport", tr.String())
		err = s.handleLink(ctx, link, cfg)
		link.Close()
		if err != nil {
			delay := backoff()
			s.log.Warn("bridge link lost", "error", err, "retry_in", delay)
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean close: restart only on new config.
		return
	}
}

// handleLink forwards matching local messages until ctx ends or the link fails.
// Retained local messages are forwarded retained so late remote subscribers see
// the current info and state documents.
func (s *Service) handleLink(ctx context.Context, link Link, cfg Config) error {
	merged := make(chan *bus.Message, 64)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var subs []*bus.Subscription
	for _, pat := range cfg.forward() {
		sub := s.conn.Subscribe(pat)
		subs = append(subs, sub)
		wg.Add(1)
		go func(ch <-chan *bus.Message) {
			defer wg.Done()
			for m := range ch {
				select {
				case merged <- m:
				case <-stop:
					return
				}
			}
		}(sub.Channel())
	}
	defer func() {
		close(stop)
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
		wg.Wait()
	}()

	s.publishState("up", "link_established", nil)

	prefix, qos := cfg.prefix(), cfg.qos()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-link.Done():
			if err == nil {
				err = errLinkClosed
			}
			return err
		case m := <-merged:
			if m.Payload == nil {
				// Retained clear.
				if err := link.Publish(remoteTopic(prefix, m.Topic), qos, true, nil); err != nil {
					return err
				}
				continue
			}
			data, err := encodePayload(m.Payload)
			if err != nil {
				s.log.Debug("bridge dropped unencodable payload", "topic", topicString(m.Topic), "error", err)
				continue
			}
			if err := link.Publish(remoteTopic(prefix, m.Topic), qos, m.Retained, data); err != nil {
				return err
			}
		}
	}
}

var errLinkClosed = errors.New("link closed")

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Link is one open connection to the remote side.
type Link interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	// Done yields once when the link fails underneath the bridge.
	Done() <-chan error
	Close()
}

// Transport is a pluggable link dialler.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

type transportFactory func(TransportConfig, *slog.Logger) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f func(TransportConfig, *slog.Logger) (Transport, error)) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig, logger *slog.Logger) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg, logger)
	}
	switch cfg.Type {
	case "mqtt":
		return newMQTTTransport(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case Config:
		return v, nil
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case json.RawMessage:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object (e.g. if provided internally); re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func encodePayload(p any) ([]byte, error) {
	switch v := p.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	return json.Marshal(p)
}

// parseTopic turns "a/+/#" into a bus topic; numeric segments become ints so
// they match capability ids.
func parseTopic(s string) bus.Topic {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	t := make(bus.Topic, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			t = append(t, n)
			continue
		}
		t = append(t, p)
	}
	return t
}

func topicString(t bus.Topic) string {
	var b strings.Builder
	for i, tok := range t {
		if i > 0 {
			b.WriteByte('/')
		}
		fmt.Fprint(&b, tok)
	}
	return b.String()
}

// remoteTopic maps hal/capability/<kind>/<n>/<leaf> to <prefix>/<kind>/<n>/<leaf>
// and any other topic to <prefix>/<topic>.
func remoteTopic(prefix string, t bus.Topic) string {
	if len(t) > 2 && t[0] == "hal" && t[1] == "capability" {
		t = t[2:]
	}
	return prefix + "/" + topicString(t)
}

type statePayload struct {
	Level  string `json:"level"`  // "up", "degraded", "error", "idle"
	Status string `json:"status"` // short machine string
	TsMs   int64  `json:"ts_ms"`
	Error  string `json:"error,omitempty"`
}

func (s *Service) publishState(level, status string, err error) {
	payload := statePayload{Level: level, Status: status, TsMs: time.Now().UnixMilli()}
	if err != nil {
		payload.Error = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
