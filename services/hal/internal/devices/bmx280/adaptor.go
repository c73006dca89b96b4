// services/hal/internal/devices/bmx280/adaptor.go
package bmx280

import (
	"context"
	"sync"
	"time"

	"sensorcode-go/drivers/bmx280"
	"sensorcode-go/errcode"
	"sensorcode-go/services/hal/internal/consts"
	"sensorcode-go/services/hal/internal/halcore"
	"sensorcode-go/services/hal/internal/registry"
	"sensorcode-go/services/hal/internal/util"
	"sensorcode-go/types"
	"sensorcode-go/x/mathx"
)

// Sea-level reference bounds, the sensor's operating pressure range in hPa.
const (
	seaLevelMinHPa = 300
	seaLevelMaxHPa = 1100
)

// tempStep is the published temperature resolution in °C.
const tempStep = 0.01

// Register this device type with the registry.
func init() {
	registry.RegisterBuilder("bme280", builder{variant: bmx280.VariantBME280})
	registry.RegisterBuilder("bmp280", builder{variant: bmx280.VariantBMP280})
}

// Params is the JSON params object of a bme280/bmp280 device.
type Params struct {
	Addr        int     `json:"addr"`
	SeaLevelHPa float64 `json:"sea_level_hpa"`
	TempPath    string  `json:"temp_path"` // "", "float", "int"
	Filter      int     `json:"filter"`    // 0, 2, 4, 8, 16
	PeriodMs    int     `json:"period_ms"`
}

type builder struct{ variant bmx280.Variant }

func (b builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	i2c, err := in.I2C()
	if err != nil {
		return registry.BuildOutput{}, err
	}
	var p Params
	if err := util.DecodeJSON(in.ParamsJSON, &p); err != nil {
		return registry.BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "bmx280.build", err)
	}
	cfg, err := p.config(b.variant)
	if err != nil {
		return registry.BuildOutput{}, err
	}
	switch {
	case p.SeaLevelHPa == 0:
		p.SeaLevelHPa = bmx280.SeaLevelHPa
	case !mathx.Between(p.SeaLevelHPa, seaLevelMinHPa, seaLevelMaxHPa):
		return registry.BuildOutput{}, errcode.New(errcode.InvalidParams, "bmx280.build", "sea_level_hpa must be within 300..1100")
	}
	period := registry.Period(p.PeriodMs)
	ad := newAdaptor(in.DeviceID, in.BusRefID, bmx280.New(i2c, cfg), cfg, p.SeaLevelHPa)
	return registry.BuildOutput{
		Adaptor:     ad,
		BusID:       in.BusRefID,
		SampleEvery: period,
	}, nil
}

func (p Params) config(v bmx280.Variant) (bmx280.Config, error) {
	cfg := bmx280.Config{Address: uint16(p.Addr), Variant: v}
	switch p.TempPath {
	case "":
	case "float":
		cfg.TempPath = bmx280.PathFloat
	case "int":
		cfg.TempPath = bmx280.PathInt
	default:
		return cfg, errcode.New(errcode.InvalidParams, "bmx280.build", "temp_path must be float or int")
	}
	switch p.Filter {
	case 0:
		cfg.Filter = bmx280.FilterOff
	case 2:
		cfg.Filter = bmx280.Filter2
	case 4:
		cfg.Filter = bmx280.Filter4
	case 8:
		cfg.Filter = bmx280.Filter8
	case 16:
		cfg.Filter = bmx280.Filter16
	default:
		return cfg, errcode.New(errcode.InvalidParams, "bmx280.build", "filter must be 0, 2, 4, 8 or 16")
	}
	return cfg, nil
}

type adaptor struct {
	id       string
	bus      string
	addr     uint16
	variant  bmx280.Variant
	dev      *bmx280.Device
	seaLevel float64

	mu         sync.Mutex
	configured bool
	resetReq   bool
}

func newAdaptor(id, bus string, dev *bmx280.Device, cfg bmx280.Config, seaLevel float64) *adaptor {
	addr := cfg.Address
	if addr == 0 {
		addr = bmx280.AddressDefault
	}
	return &adaptor{id: id, bus: bus, addr: addr, variant: cfg.Variant, dev: dev, seaLevel: seaLevel}
}

func (a *adaptor) ID() string { return a.id }

func (a *adaptor) info(unit string) types.Info {
	return types.Info{
		SchemaVersion: 1,
		Driver:        a.variant.String(),
		Detail:        types.SensorInfo{Sensor: a.variant.String(), Addr: a.addr, Bus: a.bus, Unit: unit},
	}
}

func (a *adaptor) Capabilities() []halcore.CapInfo {
	caps := []halcore.CapInfo{
		{Kind: string(types.KindTemperature), Info: a.info("C")},
		{Kind: string(types.KindPressure), Info: a.info("Pa")},
		{Kind: string(types.KindAltitude), Info: a.info("m")},
	}
	if a.variant == bmx280.VariantBME280 {
		caps = append(caps, halcore.CapInfo{Kind: string(types.KindHumidity), Info: a.info("%RH")})
	}
	return caps
}

// Trigger configures the sensor on first use (and after a reset). The sensor
// runs in normal mode, so a configured sensor is ready to collect at once.
func (a *adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resetReq {
		a.resetReq = false
		a.configured = false
		if err := a.dev.Reset(); err != nil {
			return 0, err
		}
	}
	if a.configured {
		return 0, nil
	}
	if err := a.dev.Configure(); err != nil {
		return 0, err
	}
	a.configured = true
	return a.dev.MeasurementTime(), nil
}

func (a *adaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	m, err := a.dev.Read()
	if err != nil {
		if errcode.Of(err) == errcode.Uninitialised {
			a.mu.Lock()
			a.configured = false
			a.mu.Unlock()
		}
		return nil, err
	}
	ts := time.Now().UnixMilli()
	s := halcore.Sample{
		{Kind: string(types.KindTemperature), Payload: types.TemperatureValue{C: mathx.Quantize(m.Temperature, tempStep), TsMs: ts}, TsMs: ts},
	}
	if m.PressureValid {
		s = append(s,
			halcore.Reading{Kind: string(types.KindPressure), Payload: types.PressureValue{Pa: m.Pressure, TsMs: ts}, TsMs: ts},
			halcore.Reading{Kind: string(types.KindAltitude), Payload: types.AltitudeValue{
				M: bmx280.Altitude(m.Pressure, a.seaLevel), SeaLevelHPa: a.seaLevel, TsMs: ts,
			}, TsMs: ts},
		)
	} else {
		s = append(s,
			halcore.Reading{Kind: string(types.KindPressure), Err: bmx280.ErrPressureUnavailable, TsMs: ts},
			halcore.Reading{Kind: string(types.KindAltitude), Err: bmx280.ErrPressureUnavailable, TsMs: ts},
		)
	}
	if m.HasHumidity {
		s = append(s, halcore.Reading{Kind: string(types.KindHumidity), Payload: types.HumidityValue{RH: m.Humidity, TsMs: ts}, TsMs: ts})
	}
	return s, nil
}

// Control handles "reset". The soft reset itself runs on the bus worker at
// the next measurement.
func (a *adaptor) Control(kind, method string, payload any) (any, error) {
	switch method {
	case consts.CtrlReset:
		a.mu.Lock()
		a.resetReq = true
		a.mu.Unlock()
		return types.OKReply{OK: true}, nil
	default:
		return nil, halcore.ErrUnsupported
	}
}
