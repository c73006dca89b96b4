package tcs34725

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"sensorcode-go/drivers/regio/regiotest"
	"sensorcode-go/errcode"
	"sensorcode-go/services/hal/internal/consts"
	"sensorcode-go/services/hal/internal/halcore"
	"sensorcode-go/services/hal/internal/registry"
	"sensorcode-go/types"
)

func fakeBus() *regiotest.Bus {
	b := regiotest.New(0x29)
	b.CmdMask = 0xA0
	b.Set(0x12, 0x44)
	b.Set(0x13, 0x01) // AVALID
	// C=0x1234 R=2000 G=1500 B=1000
	b.Set(0x14, 0x34, 0x12, 0xD0, 0x07, 0xDC, 0x05, 0xE8, 0x03)
	return b
}

func build(t *testing.T, bus *regiotest.Bus, params any) halcore.Adaptor {
	t.Helper()
	b, ok := registry.Lookup("tcs34725")
	if !ok {
		t.Fatal("tcs34725 builder not registered")
	}
	out, err := b.Build(registry.BuildInput{
		Buses:      halcore.I2CBusMap{"i2c1": bus},
		DeviceID:   "light0",
		ParamsJSON: params,
		BusRefType: consts.BusI2C,
		BusRefID:   "i2c1",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return out.Adaptor
}

func TestBuildValidatesSettings(t *testing.T) {
	b, _ := registry.Lookup("tcs34725")
	in := registry.BuildInput{
		Buses:      halcore.I2CBusMap{"i2c1": fakeBus()},
		BusRefType: consts.BusI2C,
		BusRefID:   "i2c1",
	}
	in.ParamsJSON = map[string]any{"gain": 8}
	if _, err := b.Build(in); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("gain 8: %v", err)
	}
	in.ParamsJSON = map[string]any{"integration_ms": 100}
	if _, err := b.Build(in); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("integration 100: %v", err)
	}
	in.BusRefType = "spi"
	if _, err := b.Build(in); err == nil {
		t.Fatal("non-i2c bus accepted")
	}
}

func TestCycle(t *testing.T) {
	ad := build(t, fakeBus(), map[string]any{"gain": 16, "integration_ms": 24})
	ctx := context.Background()

	wait, err := ad.Trigger(ctx)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if wait != 24*time.Millisecond {
		t.Fatalf("wait = %v", wait)
	}
	s, err := ad.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(s) != 3 {
		t.Fatalf("sample = %+v", s)
	}
	col := s[0].Payload.(types.ColorValue)
	if col.C != 0x1234 || col.R != 2000 || col.G != 1500 || col.B != 1000 || col.Gain != 16 || col.ATimeMs != 24 {
		t.Fatalf("color = %+v", col)
	}
	lux := s[1].Payload.(types.IlluminanceValue)
	if math.Abs(lux.Lux-986.325) > 1e-6 {
		t.Fatalf("lux = %v", lux.Lux)
	}
	k := s[2].Payload.(types.ColorTempValue)
	if math.Abs(k.K-2872.345) > 1e-3 {
		t.Fatalf("cct = %v", k.K)
	}
}

func TestNotReadyUntilValid(t *testing.T) {
	bus := fakeBus()
	bus.Set(0x13, 0x00)
	ad := build(t, bus, nil)
	if _, err := ad.Trigger(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := ad.Collect(context.Background()); !errors.Is(err, halcore.ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}
}

func TestDarkHasNoColourTemperature(t *testing.T) {
	bus := fakeBus()
	bus.Set(0x14, 0, 0, 0, 0, 0, 0, 0, 0)
	ad := build(t, bus, nil)
	if _, err := ad.Trigger(context.Background()); err != nil {
		t.Fatal(err)
	}
	s, err := ad.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s[2].Kind != string(types.KindColorTemp) || !errors.Is(s[2].Err, errcode.Unavailable) {
		t.Fatalf("cct reading = %+v", s[2])
	}
	if s[1].Payload.(types.IlluminanceValue).Lux != 0 {
		t.Fatalf("lux = %+v", s[1])
	}
}

func TestControlsApplyAtNextTrigger(t *testing.T) {
	bus := fakeBus()
	ad := build(t, bus, nil)
	ctx := context.Background()
	if _, err := ad.Trigger(ctx); err != nil {
		t.Fatal(err)
	}
	n := len(bus.Writes())

	if _, err := ad.Control("color", consts.CtrlSetGain, types.SetGain{Gain: 60}); err != nil {
		t.Fatalf("set_gain: %v", err)
	}
	if _, err := ad.Control("color", consts.CtrlSetIntegrationTime, `{"ms":700}`); err != nil {
		t.Fatalf("set_integration_time: %v", err)
	}
	if len(bus.Writes()) != n {
		t.Fatal("control wrote to the bus")
	}

	wait, err := ad.Trigger(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if wait != 700*time.Millisecond {
		t.Fatalf("wait = %v", wait)
	}
	w := bus.Writes()[n:]
	if len(w) != 2 || w[0] != (regiotest.Write{Reg: 0x01, Val: 0x00}) || w[1] != (regiotest.Write{Reg: 0x0F, Val: 0x03}) {
		t.Fatalf("writes = %+v", w)
	}

	if _, err := ad.Control("color", consts.CtrlSetGain, types.SetGain{Gain: 2}); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("bad gain: %v", err)
	}
	if _, err := ad.Control("color", consts.CtrlSetIntegrationTime, "{"); !errors.Is(err, errcode.InvalidPayload) {
		t.Fatalf("bad payload: %v", err)
	}
	if _, err := ad.Control("color", "blink", nil); !errors.Is(err, halcore.ErrUnsupported) {
		t.Fatalf("unknown: %v", err)
	}
}
