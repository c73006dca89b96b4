package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"sensorcode-go/bus"
	"sensorcode-go/errcode"
	"sensorcode-go/services/hal/internal/consts"
	"sensorcode-go/services/hal/internal/halcore"
	"sensorcode-go/services/hal/internal/registry"
	"sensorcode-go/types"
)

// ---- Test device/adaptor & builder ----

var errNoPressure = errcode.New(errcode.Unavailable, "test", "no pressure")

type svcTestAdaptor struct {
	id       string
	failNext atomic.Bool
}

func (a *svcTestAdaptor) ID() string { return a.id }
func (a *svcTestAdaptor) Capabilities() []halcore.CapInfo {
	return []halcore.CapInfo{
		{Kind: "temperature", Info: types.Info{SchemaVersion: 1, Driver: "svc_test"}},
		{Kind: "pressure", Info: types.Info{SchemaVersion: 1, Driver: "svc_test"}},
	}
}
func (a *svcTestAdaptor) Trigger(ctx context.Context) (time.Duration, error) {
	return 5 * time.Millisecond, nil
}
func (a *svcTestAdaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	if a.failNext.Swap(false) {
		return nil, errcode.New(errcode.Transport, "test", "nack")
	}
	ts := time.Now().UnixMilli()
	return halcore.Sample{
		{Kind: "temperature", Payload: types.TemperatureValue{C: 21.5, TsMs: ts}, TsMs: ts},
		{Kind: "pressure", Err: errNoPressure, TsMs: ts},
	}, nil
}
func (a *svcTestAdaptor) Control(kind, method string, payload any) (any, error) {
	switch method {
	case "ping":
		return types.OKReply{OK: true}, nil
	case "explode":
		return nil, errcode.New(errcode.InvalidParams, "test", "bad")
	}
	return nil, halcore.ErrUnsupported
}

var lastAdaptor atomic.Pointer[svcTestAdaptor]

type svcBuilder struct{}

func (svcBuilder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	ad := &svcTestAdaptor{id: in.DeviceID}
	lastAdaptor.Store(ad)
	return registry.BuildOutput{
		Adaptor:     ad,
		BusID:       "bus0",
		SampleEvery: 50 * time.Millisecond,
	}, nil
}

var paramBuilds atomic.Int32

// paramsBuilder counts builds so config changes can be observed.
type paramsBuilder struct{ svcBuilder }

func (b paramsBuilder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	paramBuilds.Add(1)
	return b.svcBuilder.Build(in)
}

type failBuilder struct{}

func (failBuilder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	return registry.BuildOutput{}, errcode.New(errcode.InvalidParams, "test", "no")
}

func ensureRegistered(t *testing.T, typ string, b registry.Builder) {
	t.Helper()
	if _, ok := registry.Lookup(typ); !ok {
		registry.RegisterBuilder(typ, b)
	}
}

// waitFor reads sub until pred accepts a message or d elapses.
func waitFor(t *testing.T, sub *bus.Subscription, d time.Duration, pred func(*bus.Message) bool) *bus.Message {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case msg := <-sub.Channel():
			if pred(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timeout waiting on %v", sub.Topic())
			return nil
		}
	}
}

func halLevel(level string) func(*bus.Message) bool {
	return func(m *bus.Message) bool {
		st, ok := m.Payload.(types.HALState)
		return ok && st.Level == level
	}
}

func link(l types.Link) func(*bus.Message) bool {
	return func(m *bus.Message) bool {
		st, ok := m.Payload.(types.CapabilityState)
		return ok && st.Link == l
	}
}

func start(t *testing.T, name string) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection(name)
	s := New(conn, halcore.I2CBusMap{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)

	stateSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokState})
	t.Cleanup(func() { conn.Unsubscribe(stateSub) })
	waitFor(t, stateSub, time.Second, halLevel("idle"))
	return conn, stateSub
}

func applyHAL(conn *bus.Connection, devs ...types.Device) {
	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL}, types.HALConfig{Devices: devs}, false))
}

func request(t *testing.T, conn *bus.Connection, kind string, id int, verb string, payload any) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := conn.NewMessage(bus.Topic{consts.TokHAL, consts.TokCapability, kind, id, consts.TokControl, verb}, payload, false)
	reply, err := conn.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("%s request failed: %v", verb, err)
	}
	return reply.Payload
}

// ---- Tests ----

func TestServicePublishesStateAndValues(t *testing.T) {
	ensureRegistered(t, "svc_testdev", svcBuilder{})
	conn, stateSub := start(t, "test")

	applyHAL(conn, types.Device{ID: "d1", Type: "svc_testdev"})
	waitFor(t, stateSub, time.Second, halLevel("ready"))

	infoSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "temperature", 0, consts.TokInfo})
	defer conn.Unsubscribe(infoSub)
	info := waitFor(t, infoSub, 500*time.Millisecond, func(*bus.Message) bool { return true })
	if in, ok := info.Payload.(types.Info); !ok || in.Driver != "svc_test" || !info.Retained {
		t.Fatalf("info = %+v", info)
	}

	valSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "temperature", 0, consts.TokValue})
	defer conn.Unsubscribe(valSub)
	v := waitFor(t, valSub, time.Second, func(*bus.Message) bool { return true })
	if tv, ok := v.Payload.(types.TemperatureValue); !ok || tv.C != 21.5 {
		t.Fatalf("value = %+v", v.Payload)
	}

	// A reading that carries an error degrades only its own capability.
	pSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "pressure", 0, consts.TokState})
	defer conn.Unsubscribe(pSub)
	m := waitFor(t, pSub, time.Second, link(types.LinkDegraded))
	if st := m.Payload.(types.CapabilityState); st.Error != string(errcode.Unavailable) {
		t.Fatalf("pressure state = %+v", st)
	}

	// read_now and set_rate.
	if ack, ok := request(t, conn, "temperature", 0, consts.CtrlReadNow, nil).(types.ReadNowAck); !ok || !ack.OK {
		t.Fatalf("read_now reply = %+v", ack)
	}
	rate := request(t, conn, "temperature", 0, consts.CtrlSetRate, types.SetRate{Period: 10 * time.Millisecond})
	if ack, ok := rate.(types.SetRateAck); !ok || ack.Period != consts.MinPeriod {
		t.Fatalf("set_rate reply = %+v (want clamped to %v)", rate, consts.MinPeriod)
	}
	rate = request(t, conn, "temperature", 0, consts.CtrlSetRate, map[string]any{"period_ms": 1500})
	if ack, ok := rate.(types.SetRateAck); !ok || ack.Period != 1500*time.Millisecond {
		t.Fatalf("set_rate json reply = %+v", rate)
	}
	if r, ok := request(t, conn, "temperature", 0, consts.CtrlSetRate, nil).(types.ErrorReply); !ok || r.Error != "invalid_period" {
		t.Fatalf("set_rate nil reply = %+v", r)
	}
}

func TestServiceControlPassThrough(t *testing.T) {
	ensureRegistered(t, "svc_testdev", svcBuilder{})
	conn, stateSub := start(t, "ctrl")
	applyHAL(conn, types.Device{ID: "d1", Type: "svc_testdev"})
	waitFor(t, stateSub, time.Second, halLevel("ready"))

	if r, ok := request(t, conn, "temperature", 0, "ping", nil).(types.OKReply); !ok || !r.OK {
		t.Fatalf("ping = %+v", r)
	}
	for _, tc := range []struct {
		kind string
		id   int
		verb string
		want string
	}{
		{"temperature", 0, "explode", "invalid_params"},
		{"temperature", 0, "nope", "unsupported"},
		{"temperature", 7, "ping", "unknown_capability"},
		{"", 0, "ping", "invalid_capability_address"},
	} {
		r, ok := request(t, conn, tc.kind, tc.id, tc.verb, nil).(types.ErrorReply)
		if !ok || r.OK || r.Error != tc.want {
			t.Fatalf("%s/%d/%s = %+v, want %s", tc.kind, tc.id, tc.verb, r, tc.want)
		}
	}
}

func TestServiceCollectErrorDegradesAll(t *testing.T) {
	ensureRegistered(t, "svc_testdev", svcBuilder{})
	conn, stateSub := start(t, "degrade")
	applyHAL(conn, types.Device{ID: "d1", Type: "svc_testdev"})
	waitFor(t, stateSub, time.Second, halLevel("ready"))

	tSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "temperature", bus.SingleWild, consts.TokState})
	defer conn.Unsubscribe(tSub)
	waitFor(t, tSub, time.Second, link(types.LinkUp))

	lastAdaptor.Load().failNext.Store(true)
	m := waitFor(t, tSub, 2*time.Second, link(types.LinkDegraded))
	if st := m.Payload.(types.CapabilityState); st.Error != string(errcode.Transport) {
		t.Fatalf("state = %+v", st)
	}
	// Recovers on the next good cycle.
	waitFor(t, tSub, 2*time.Second, link(types.LinkUp))
}

func TestServiceApplyConfigRemovesDevices(t *testing.T) {
	ensureRegistered(t, "svc_testdev2", svcBuilder{})
	conn, stateSub := start(t, "test2")

	stSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "temperature", bus.SingleWild, consts.TokState})
	defer conn.Unsubscribe(stSub)

	applyHAL(conn, types.Device{ID: "dX", Type: "svc_testdev2"})
	waitFor(t, stateSub, time.Second, halLevel("ready"))
	up := waitFor(t, stSub, 2*time.Second, link(types.LinkUp))
	idTok := up.Topic[3]

	applyHAL(conn)
	waitFor(t, stSub, 2*time.Second, func(m *bus.Message) bool {
		return m.Topic[3] == idTok && link(types.LinkDown)(m)
	})

	// The retained info document is cleared.
	infoSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "temperature", idTok, consts.TokInfo})
	defer conn.Unsubscribe(infoSub)
	select {
	case m := <-infoSub.Channel():
		t.Fatalf("info still retained: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServiceRebuildsDeviceOnParamsChange(t *testing.T) {
	ensureRegistered(t, "svc_params", paramsBuilder{})
	conn, stateSub := start(t, "params")

	stSub := conn.Subscribe(bus.Topic{consts.TokHAL, consts.TokCapability, "temperature", bus.SingleWild, consts.TokState})
	defer conn.Unsubscribe(stSub)

	before := paramBuilds.Load()
	dev := types.Device{ID: "p0", Type: "svc_params", Params: map[string]any{"period_ms": 100, "gain": 4}}
	applyHAL(conn, dev)
	waitFor(t, stateSub, time.Second, halLevel("ready"))
	idTok := waitFor(t, stSub, 2*time.Second, link(types.LinkUp)).Topic[3]

	// Same params in another encoding: kept as is.
	dev.Params = `{"gain":4, "period_ms":100}`
	applyHAL(conn, dev)
	waitFor(t, stateSub, time.Second, halLevel("ready"))
	if n := paramBuilds.Load() - before; n != 1 {
		t.Fatalf("unchanged device built %d times", n)
	}

	dev.Params = map[string]any{"period_ms": 200, "gain": 4}
	applyHAL(conn, dev)
	waitFor(t, stateSub, time.Second, halLevel("ready"))
	if n := paramBuilds.Load() - before; n != 2 {
		t.Fatalf("changed params built %d times, want 2", n)
	}
	// The rebuilt device answers on the same capability id.
	if r, ok := request(t, conn, "temperature", idTok.(int), "ping", nil).(types.OKReply); !ok || !r.OK {
		t.Fatalf("ping after rebuild: %+v", r)
	}

	dev.BusRef = types.BusRef{Type: "i2c", ID: "i2c0"}
	applyHAL(conn, dev)
	waitFor(t, stateSub, time.Second, halLevel("ready"))
	if n := paramBuilds.Load() - before; n != 3 {
		t.Fatalf("changed bus ref built %d times, want 3", n)
	}
}

func TestDeviceConf(t *testing.T) {
	a := types.Device{Params: map[string]any{"a": 1, "b": "x"}, BusRef: types.BusRef{Type: "i2c", ID: "i2c1"}}
	b := types.Device{Params: []byte(`{"b":"x","a":1}`), BusRef: a.BusRef}
	if deviceConf(&a) != deviceConf(&b) {
		t.Fatalf("%s != %s", deviceConf(&a), deviceConf(&b))
	}
	b.BusRef.ID = "i2c0"
	if deviceConf(&a) == deviceConf(&b) {
		t.Fatal("bus ref change not seen")
	}
	if deviceConf(&types.Device{}) == deviceConf(&a) {
		t.Fatal("nil params equal to populated params")
	}
}

func TestServiceConfigErrors(t *testing.T) {
	ensureRegistered(t, "svc_testdev", svcBuilder{})
	ensureRegistered(t, "svc_failing", failBuilder{})
	conn, stateSub := start(t, "cfgerr")

	applyHAL(conn,
		types.Device{ID: "good", Type: "svc_testdev"},
		types.Device{ID: "bad", Type: "svc_failing"},
		types.Device{ID: "what", Type: "toaster"},
	)
	m := waitFor(t, stateSub, time.Second, halLevel("error"))
	if st := m.Payload.(types.HALState); st.Status != "apply_config_failed" || st.Error == "" {
		t.Fatalf("state = %+v", st)
	}

	// The good device was still built.
	if r, ok := request(t, conn, "temperature", 0, "ping", nil).(types.OKReply); !ok || !r.OK {
		t.Fatalf("good device missing: %+v", r)
	}

	conn.Publish(conn.NewMessage(bus.Topic{consts.TokConfig, consts.TokHAL}, 42, false))
	m = waitFor(t, stateSub, time.Second, halLevel("error"))
	if st := m.Payload.(types.HALState); st.Status != "config_wrong_type" {
		t.Fatalf("state = %+v", st)
	}
}

func TestDecodeConfigFromJSON(t *testing.T) {
	cfg, err := decodeConfig([]byte(`{"devices":[{"id":"env0","type":"bme280","params":{"addr":118},"bus_ref":{"type":"i2c","id":"i2c1"}}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].BusRef.ID != "i2c1" || cfg.Devices[0].Type != "bme280" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if _, err := decodeConfig("{"); !errors.Is(err, errcode.InvalidPayload) {
		t.Fatalf("bad json: %v", err)
	}
}

func TestAsInt(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want int
		ok   bool
	}{
		{3, 3, true},
		{int64(4), 4, true},
		{float64(5), 5, true},
		{1.5, 0, false},
		{"6", 6, true},
		{"x", 0, false},
		{nil, 0, false},
	} {
		got, ok := asInt(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("asInt(%v) = %d,%v", tc.in, got, ok)
		}
	}
}
