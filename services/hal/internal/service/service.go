// services/hal/internal/service/service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"sensorcode-go/bus"
	"sensorcode-go/errcode"
	"sensorcode-go/services/hal/internal/consts"
	"sensorcode-go/services/hal/internal/halcore"
	"sensorcode-go/services/hal/internal/halerr"
	"sensorcode-go/services/hal/internal/registry"
	"sensorcode-go/services/hal/internal/util"
	"sensorcode-go/services/hal/internal/worker"

	"sensorcode-go/types"
)

type devEntry struct {
	typ     string
	conf    string // normalised params and bus ref
	adaptor halcore.Adaptor
	caps    map[string]int // kind -> numeric capability id
	busID   string
}

type capKey struct {
	kind string
	id   int
}

type Service struct {
	conn  *bus.Connection
	buses halcore.I2CBusFactory
	wcfg  halcore.WorkerConfig
	log   *slog.Logger

	workers map[string]*worker.MeasureWorker // busID -> worker
	results chan halcore.Result

	devices map[string]devEntry

	capToDev  map[capKey]string // (kind,id) -> devID
	nextCapID map[string]int

	devPeriod  map[string]time.Duration
	devNextDue map[string]time.Time

	timer *time.Timer
}

var (
	topicConfigHAL = bus.Topic{consts.TokConfig, consts.TokHAL}
	topicCtrl      = bus.Topic{consts.TokHAL, consts.TokCapability, bus.SingleWild, bus.SingleWild, consts.TokControl, bus.SingleWild}
)

func New(conn *bus.Connection, buses halcore.I2CBusFactory) *Service {
	return &Service{
		conn:       conn,
		buses:      buses,
		log:        slog.Default().With("service", "hal"),
		workers:    map[string]*worker.MeasureWorker{},
		results:    make(chan halcore.Result, 64),
		devices:    map[string]devEntry{},
		capToDev:   map[capKey]string{},
		nextCapID:  map[string]int{},
		devPeriod:  map[string]time.Duration{},
		devNextDue: map[string]time.Time{},
	}
}

// WithLogger replaces the default logger. Call before Run.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.log = l.With("service", "hal")
	}
	return s
}

// WithWorkerConfig overrides the per-bus worker timings. Call before Run.
func (s *Service) WithWorkerConfig(c halcore.WorkerConfig) *Service {
	s.wcfg = c
	return s
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigHAL)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	if !s.timer.Stop() {
		util.DrainTimer(s.timer)
	}
	defer s.timer.Stop()

	for {
		if next := s.earliestDevDue(); next.IsZero() {
			util.ResetTimer(s.timer, time.Hour)
		} else {
			util.ResetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.log.Warn("hal config rejected", "error", err)
				s.publishState("error", "config_wrong_type", err)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.log.Warn("hal config partially applied", "devices", len(s.devices), "error", err)
				s.publishState("error", "apply_config_failed", err)
				continue
			}
			s.log.Info("hal configured", "devices", len(s.devices))
			s.publishState("ready", "configured", nil)

		case msg, ok := <-ctrlSub.Channel():
			if !ok {
				return
			}
			s.handleControl(msg)

		case <-s.timer.C:
			now := time.Now()
			for devID, due := range s.devNextDue {
				if !now.Before(due) {
					s.submitMeasure(devID, false)
					s.bumpDevNext(devID, now)
				}
			}

		case r := <-s.results:
			s.handleResult(r)
		}
	}
}

func decodeConfig(p any) (types.HALConfig, error) {
	switch v := p.(type) {
	case types.HALConfig:
		return v, nil
	case *types.HALConfig:
		if v == nil {
			return types.HALConfig{}, errcode.InvalidPayload
		}
		return *v, nil
	}
	var cfg types.HALConfig
	if err := util.DecodeJSON(p, &cfg); err != nil {
		return cfg, errcode.Wrap(errcode.InvalidPayload, "hal.config", err)
	}
	return cfg, nil
}

func (s *Service) handleControl(msg *bus.Message) {
	if len(msg.Topic) < 6 {
		return
	}
	kind, _ := msg.Topic[2].(string)
	idNum, ok := asInt(msg.Topic[3])
	if !ok || kind == "" {
		s.replyErr(msg, halerr.ErrInvalidCapAddr.Error())
		return
	}
	devID, ok := s.capToDev[capKey{kind: kind, id: idNum}]
	if !ok {
		s.replyErr(msg, halerr.ErrUnknownCap.Error())
		return
	}
	method, _ := msg.Topic[5].(string)

	switch method {
	case consts.CtrlReadNow:
		if s.submitMeasure(devID, true) {
			s.bumpDevNext(devID, time.Now())
			s.conn.Reply(msg, types.ReadNowAck{OK: true}, false)
		} else {
			s.replyErr(msg, halerr.ErrBusy.Error())
		}

	case consts.CtrlSetRate:
		p, ok := decodeSetRate(msg.Payload)
		if !ok || p.Period <= 0 {
			s.replyErr(msg, halerr.ErrInvalidPeriod.Error())
			return
		}
		s.devPeriod[devID] = util.ClampDuration(p.Period, consts.MinPeriod, consts.MaxPeriod)
		s.bumpDevNext(devID, time.Now())
		s.conn.Reply(msg, types.SetRateAck{OK: true, Period: s.devPeriod[devID]}, false)

	default:
		ent := s.devices[devID]
		if ent.adaptor == nil {
			s.replyErr(msg, halerr.ErrNoAdaptor.Error())
			return
		}
		res, err := ent.adaptor.Control(kind, method, msg.Payload)
		switch {
		case err == nil:
			s.conn.Reply(msg, res, false)
		default:
			s.replyErr(msg, string(errcode.Of(err)))
		}
	}
}

func decodeSetRate(p any) (types.SetRate, bool) {
	if v, ok := p.(types.SetRate); ok {
		return v, true
	}
	// JSON callers give the period in milliseconds.
	var raw struct {
		PeriodMs int64 `json:"period_ms"`
	}
	if err := util.DecodeJSON(p, &raw); err != nil || p == nil {
		return types.SetRate{}, false
	}
	return types.SetRate{Period: time.Duration(raw.PeriodMs) * time.Millisecond}, true
}

// applyConfig builds devices that are new in cfg, rebuilds devices whose
// params or bus ref changed and tears down devices that are no longer listed.
// A rebuilt device keeps its capability ids. A device that fails to build is
// skipped; the remaining devices are still applied and the failures are
// returned together.
func (s *Service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	seen := map[string]struct{}{}
	var errs []error

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("device %d: missing id", i))
			continue
		}
		seen[d.ID] = struct{}{}

		conf := deviceConf(d)
		var keep map[string]int
		if ent, exists := s.devices[d.ID]; exists {
			if ent.typ == d.Type && ent.conf == conf {
				continue
			}
			if ent.typ == d.Type {
				keep = ent.caps
			}
			s.log.Info("hal device changed, rebuilding", "device", d.ID, "type", d.Type)
			s.removeDevice(d.ID)
		}

		b, ok := registry.Lookup(d.Type)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w %q (known: %v)", d.ID, halerr.ErrUnknownType, d.Type, registry.Types()))
			continue
		}

		out, err := b.Build(registry.BuildInput{
			Ctx:        ctx,
			Buses:      s.buses,
			DeviceID:   d.ID,
			Type:       d.Type,
			ParamsJSON: d.Params,
			BusRefType: d.BusRef.Type,
			BusRefID:   d.BusRef.ID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
			continue
		}

		if out.BusID != "" {
			if _, ok := s.workers[out.BusID]; !ok {
				w := worker.New(s.wcfg, s.results)
				w.Start(ctx)
				s.workers[out.BusID] = w
			}
		}

		ad := out.Adaptor
		entry := devEntry{typ: d.Type, conf: conf, adaptor: ad, busID: out.BusID, caps: map[string]int{}}

		for _, ci := range ad.Capabilities() {
			id, ok := keep[ci.Kind]
			if !ok {
				id = s.nextCapID[ci.Kind]
				s.nextCapID[ci.Kind]++
			}

			entry.caps[ci.Kind] = id
			s.capToDev[capKey{kind: ci.Kind, id: id}] = d.ID

			s.pubRet(ci.Kind, id, consts.TokInfo, ci.Info)
			s.pubRet(ci.Kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: time.Now()})
		}
		s.devices[d.ID] = entry

		if out.SampleEvery > 0 {
			s.devPeriod[d.ID] = util.ClampDuration(out.SampleEvery, consts.MinPeriod, consts.MaxPeriod)
			// First reading shortly after configuration.
			s.devNextDue[d.ID] = time.Now().Add(consts.MinPeriod)
		}
	}

	for devID := range s.devices {
		if _, ok := seen[devID]; !ok {
			s.removeDevice(devID)
		}
	}
	return errors.Join(errs...)
}

// deviceConf renders the parts of a device entry that its adaptor is built
// from. Params are decoded first so key order and whitespace do not count.
func deviceConf(d *types.Device) string {
	var params any
	if err := util.DecodeJSON(d.Params, &params); err != nil {
		params = fmt.Sprint(d.Params)
	}
	b, err := json.Marshal(struct {
		Params any          `json:"params"`
		BusRef types.BusRef `json:"bus_ref"`
	}{params, d.BusRef})
	if err != nil {
		return fmt.Sprintf("%v|%v", d.Params, d.BusRef)
	}
	return string(b)
}

func (s *Service) removeDevice(devID string) {
	ent, ok := s.devices[devID]
	if !ok {
		return
	}
	for kind, id := range ent.caps {
		s.pubRet(kind, id, consts.TokInfo, nil)
		s.pubRet(kind, id, consts.TokState, types.CapabilityState{Link: types.LinkDown, TS: time.Now()})
		delete(s.capToDev, capKey{kind: kind, id: id})
	}
	delete(s.devices, devID)
	delete(s.devPeriod, devID)
	delete(s.devNextDue, devID)
}

// ---- measurement helpers ----

func (s *Service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok {
		return false
	}
	w := s.workers[ent.busID]
	if w == nil {
		return false
	}
	return w.Submit(halcore.MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio})
}

func (s *Service) bumpDevNext(devID string, from time.Time) {
	period := s.devPeriod[devID]
	if period <= 0 {
		// read_now on a device without a period: no periodic schedule.
		return
	}
	s.devNextDue[devID] = from.Add(period)
}

func (s *Service) earliestDevDue() time.Time {
	var min time.Time
	for _, t := range s.devNextDue {
		if !t.IsZero() && (min.IsZero() || t.Before(min)) {
			min = t
		}
	}
	return min
}

// ---- results ----

func (s *Service) handleResult(r halcore.Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	now := time.Now()

	if r.Err != nil {
		code := string(errcode.Of(r.Err))
		for kind, id := range ent.caps {
			s.pubRet(kind, id, consts.TokState, types.CapabilityState{Link: types.LinkDegraded, TS: now, Error: code})
		}
		return
	}
	for _, rd := range r.Sample {
		id, ok := ent.caps[rd.Kind]
		if !ok {
			continue
		}
		if rd.Err != nil {
			s.pubRet(rd.Kind, id, consts.TokState, types.CapabilityState{
				Link:  types.LinkDegraded,
				TS:    now,
				Error: string(errcode.Of(rd.Err)),
			})
			continue
		}
		s.conn.Publish(s.conn.NewMessage(capTopicInt(rd.Kind, id, consts.TokValue), rd.Payload, false))
		s.pubRet(rd.Kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: now})
	}
}

// ---- bus helpers & utils ----

func (s *Service) publishState(level, status string, err error) {
	pl := types.HALState{Level: level, Status: status, TS: time.Now()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.Topic{consts.TokHAL, consts.TokState}, pl, true))
}

func (s *Service) replyErr(req *bus.Message, code string) {
	if !s.conn.CanReply(req) {
		return
	}
	if code == "" {
		code = string(errcode.Error)
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: code}, false)
}

func capTopicInt(kind string, id int, suffix string) bus.Topic {
	return bus.Topic{consts.TokHAL, consts.TokCapability, kind, id, suffix}
}

func (s *Service) pubRet(kind string, id int, suffix string, p any) {
	s.conn.Publish(s.conn.NewMessage(capTopicInt(kind, id, suffix), p, true))
}

func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint32:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}
