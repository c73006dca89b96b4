// Package heartbeat logs a periodic liveness line with a summary of what the
// HAL has published, plus every HAL and capability state transition.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sensorcode-go/bus"
	"sensorcode-go/types"
)

var (
	topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}
	topicHALState        = bus.Topic{"hal", "state"}
	topicCapState        = bus.T("hal", "capability", bus.SingleWild, bus.SingleWild, "state")
	topicCapValue        = bus.T("hal", "capability", bus.SingleWild, bus.SingleWild, "value")
)

const defaultInterval = 30 * time.Second

type Service struct {
	log      *slog.Logger
	interval time.Duration

	links  map[string]types.Link // "kind/n" -> last link
	values int                   // since last beat
}

func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		log:      logger.With("service", "heartbeat"),
		interval: defaultInterval,
		links:    map[string]types.Link{},
	}
}

// WithInterval sets the initial beat period. Call before Start.
func (s *Service) WithInterval(d time.Duration) *Service {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	halSub := conn.Subscribe(topicHALState)
	capSub := conn.Subscribe(topicCapState)
	valSub := conn.Subscribe(topicCapValue)
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(halSub)
	defer conn.Unsubscribe(capSub)
	defer conn.Unsubscribe(valSub)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("heartbeat service stopping")
			return
		case <-tick.C:
			s.beat()
		case msg := <-cfgSub.Channel():
			if d, ok := intervalOf(msg.Payload); ok {
				s.interval = d
				tick.Reset(d)
				s.log.Info("heartbeat interval set", "interval", d)
			}
		case msg := <-halSub.Channel():
			if st, ok := msg.Payload.(types.HALState); ok {
				s.log.Info("hal state", "level", st.Level, "status", st.Status, "error", st.Error)
			}
		case msg := <-capSub.Channel():
			s.observeCap(msg)
		case <-valSub.Channel():
			s.values++
		}
	}
}

func (s *Service) observeCap(msg *bus.Message) {
	key := capKey(msg.Topic)
	if msg.Payload == nil {
		delete(s.links, key)
		return
	}
	st, ok := msg.Payload.(types.CapabilityState)
	if !ok || s.links[key] == st.Link {
		return
	}
	s.links[key] = st.Link
	if st.Link == types.LinkUp {
		s.log.Info("capability up", "cap", key)
		return
	}
	s.log.Warn("capability "+string(st.Link), "cap", key, "error", st.Error)
}

func (s *Service) beat() {
	var up, down int
	for _, l := range s.links {
		if l == types.LinkUp {
			up++
		} else {
			down++
		}
	}
	s.log.Info("heartbeat", "values", s.values, "caps_up", up, "caps_down", down)
	s.values = 0
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

func capKey(t bus.Topic) string {
	if len(t) < 4 {
		return fmt.Sprint(t...)
	}
	return fmt.Sprintf("%v/%v", t[2], t[3])
}

// intervalOf accepts {"interval": seconds}.
func intervalOf(p any) (time.Duration, bool) {
	m, ok := p.(map[string]any)
	if !ok {
		return 0, false
	}
	var sec float64
	switch v := m["interval"].(type) {
	case float64:
		sec = v
	case int:
		sec = float64(v)
	default:
		return 0, false
	}
	if sec <= 0 {
		return 0, false
	}
	return time.Duration(sec * float64(time.Second)), true
}
