// services/hal/internal/devices/tcs34725/adaptor.go
package tcs34725

import (
	"context"
	"math"
	"sync"
	"time"

	"sensorcode-go/drivers/tcs34725"
	"sensorcode-go/errcode"
	"sensorcode-go/services/hal/internal/consts"
	"sensorcode-go/services/hal/internal/halcore"
	"sensorcode-go/services/hal/internal/registry"
	"sensorcode-go/services/hal/internal/util"
	"sensorcode-go/types"
)

func init() {
	registry.RegisterBuilder("tcs34725", builder{})
}

// Params: { "addr": 41, "gain": 4, "integration_ms": 50, "period_ms": 1000 }
type Params struct {
	Addr          int     `json:"addr"`
	Gain          int     `json:"gain"`
	IntegrationMs float64 `json:"integration_ms"`
	PeriodMs      int     `json:"period_ms"`
}

var errNoColourTemp = errcode.New(errcode.Unavailable, "tcs34725", "no light for a colour temperature")

type builder struct{}

func (builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	i2c, err := in.I2C()
	if err != nil {
		return registry.BuildOutput{}, err
	}
	var p Params
	if err := util.DecodeJSON(in.ParamsJSON, &p); err != nil {
		return registry.BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "tcs34725.build", err)
	}
	cfg := tcs34725.Config{Address: uint16(p.Addr)}
	if p.Gain != 0 {
		g, ok := tcs34725.ParseGain(p.Gain)
		if !ok {
			return registry.BuildOutput{}, tcs34725.ErrInvalidGain
		}
		cfg.Gain = g
	}
	if p.IntegrationMs != 0 {
		it, ok := tcs34725.ParseIntegrationTime(p.IntegrationMs)
		if !ok {
			return registry.BuildOutput{}, tcs34725.ErrInvalidTime
		}
		cfg.IntegrationTime = it
	}
	if cfg.Address == 0 {
		cfg.Address = tcs34725.AddressDefault
	}
	period := registry.Period(p.PeriodMs)
	return registry.BuildOutput{
		Adaptor: &adaptor{
			id:   in.DeviceID,
			bus:  in.BusRefID,
			addr: cfg.Address,
			dev:  tcs34725.New(i2c, cfg),
		},
		BusID:       in.BusRefID,
		SampleEvery: period,
	}, nil
}

type adaptor struct {
	id   string
	bus  string
	addr uint16
	dev  *tcs34725.Device

	mu         sync.Mutex
	configured bool
}

func (a *adaptor) ID() string { return a.id }

func (a *adaptor) Capabilities() []halcore.CapInfo {
	info := func(unit string) types.Info {
		return types.Info{
			SchemaVersion: 1,
			Driver:        "tcs34725",
			Detail:        types.SensorInfo{Sensor: "tcs34725", Addr: a.addr, Bus: a.bus, Unit: unit},
		}
	}
	return []halcore.CapInfo{
		{Kind: string(types.KindColor), Info: info("counts")},
		{Kind: string(types.KindIlluminance), Info: info("lx")},
		{Kind: string(types.KindColorTemp), Info: info("K")},
	}
}

// Trigger applies pending settings and returns one integration period.
func (a *adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.configured {
		if err := a.dev.Configure(); err != nil {
			return 0, err
		}
		a.configured = true
	}
	wait, err := a.dev.Begin()
	if errcode.Of(err) == errcode.Uninitialised {
		a.configured = false
	}
	return wait, err
}

func (a *adaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	ok, err := a.dev.Ready()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, halcore.ErrNotReady
	}
	c, err := a.dev.Channels()
	if err != nil {
		return nil, err
	}
	g, it := a.dev.Settings()
	ts := time.Now().UnixMilli()

	s := halcore.Sample{
		{Kind: string(types.KindColor), Payload: types.ColorValue{
			C: c.C, R: c.R, G: c.G, B: c.B,
			Gain: g.Factor(), ATimeMs: it.Milliseconds(), TsMs: ts,
		}, TsMs: ts},
		{Kind: string(types.KindIlluminance), Payload: types.IlluminanceValue{Lux: c.Lux(), TsMs: ts}, TsMs: ts},
	}
	// NaN does not survive JSON encoding.
	if k := c.ColorTemperature(); math.IsNaN(k) {
		s = append(s, halcore.Reading{Kind: string(types.KindColorTemp), Err: errNoColourTemp, TsMs: ts})
	} else {
		s = append(s, halcore.Reading{Kind: string(types.KindColorTemp), Payload: types.ColorTempValue{K: k, TsMs: ts}, TsMs: ts})
	}
	return s, nil
}

// Control handles set_gain and set_integration_time. Both only record the
// setting; it reaches the chip at the next Trigger.
func (a *adaptor) Control(kind, method string, payload any) (any, error) {
	switch method {
	case consts.CtrlSetGain:
		var p types.SetGain
		if err := util.DecodeJSON(payload, &p); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, "tcs34725.set_gain", err)
		}
		g, ok := tcs34725.ParseGain(p.Gain)
		if !ok {
			return nil, tcs34725.ErrInvalidGain
		}
		if err := a.dev.SetGain(g); err != nil {
			return nil, err
		}
		return types.OKReply{OK: true}, nil

	case consts.CtrlSetIntegrationTime:
		var p types.SetIntegrationTime
		if err := util.DecodeJSON(payload, &p); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, "tcs34725.set_integration_time", err)
		}
		it, ok := tcs34725.ParseIntegrationTime(p.Ms)
		if !ok {
			return nil, tcs34725.ErrInvalidTime
		}
		if err := a.dev.SetIntegrationTime(it); err != nil {
			return nil, err
		}
		return types.OKReply{OK: true}, nil
	}
	return nil, halcore.ErrUnsupported
}
