// cmd/boardtest/main.go
//
// boardtest probes the sensors on one host I²C bus and logs a single reading
// from each, without starting the bus services.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/lmittmann/tint"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"tinygo.org/x/drivers"

	"sensorcode-go/drivers/bmx280"
	"sensorcode-go/drivers/tcs34725"
	"sensorcode-go/errcode"
	"sensorcode-go/internal/platform"
)

type options struct {
	bus      string
	seaLevel float64
	timeout  time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.bus, "bus", "", "periph I2C bus name (empty: first available)")
	flag.Float64Var(&o.seaLevel, "sea-level", bmx280.SeaLevelHPa, "sea-level pressure in hPa for altitude")
	flag.DurationVar(&o.timeout, "timeout", 3*time.Second, "overall probe timeout")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))

	if err := platform.Init(); err != nil {
		log.Error("host init", "error", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, log, i2creg.Open, o)
	stop()
	os.Exit(code)
}

// run returns the process exit code. The bus is closed on every path.
func run(ctx context.Context, log *slog.Logger, open func(string) (i2c.BusCloser, error), o options) int {
	bus, err := open(o.bus)
	if err != nil {
		log.Error("open bus", "bus", o.bus, "error", err)
		return 1
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("close bus", "error", err)
		}
	}()
	log.Info("bus opened", "bus", bus.String())

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	found := 0
	for _, addr := range []uint16{bmx280.AddressLow, bmx280.AddressDefault} {
		if probeBMx(log, bus, addr, o.seaLevel) {
			found++
		}
	}
	if probeTCS(ctx, log, bus) {
		found++
	}
	if found == 0 {
		log.Error("no sensors answered")
		return 2
	}
	return 0
}

func probeBMx(log *slog.Logger, bus drivers.I2C, addr uint16, seaLevel float64) bool {
	l := log.With("addr", addr)
	d := bmx280.New(bus, bmx280.Config{Address: addr})
	if err := d.Configure(); err != nil {
		logProbeErr(l, "bmx280", err)
		return false
	}
	// Normal mode: give the first conversion time to land.
	time.Sleep(d.MeasurementTime())
	m, err := d.Read()
	if err != nil {
		l.Error("bmx280 read", "error", err)
		return true
	}
	attrs := []any{"variant", d.Variant().String(), "temperature_c", m.Temperature}
	if m.PressureValid {
		attrs = append(attrs, "pressure_pa", m.Pressure, "altitude_m", bmx280.Altitude(m.Pressure, seaLevel))
	} else {
		attrs = append(attrs, "pressure", "unavailable")
	}
	if m.HasHumidity {
		attrs = append(attrs, "humidity_rh", m.Humidity)
	}
	l.Info("bmx280 reading", attrs...)
	return true
}

func probeTCS(ctx context.Context, log *slog.Logger, bus drivers.I2C) bool {
	l := log.With("addr", uint16(tcs34725.AddressDefault))
	d := tcs34725.New(bus, tcs34725.Config{Gain: tcs34725.Gain4x, IntegrationTime: tcs34725.IntegrationTime154ms})
	if err := d.Configure(); err != nil {
		logProbeErr(l, "tcs34725", err)
		return false
	}
	c, err := d.ReadRaw(ctx)
	if err != nil {
		l.Error("tcs34725 read", "error", err)
		return true
	}
	l.Info("tcs34725 reading",
		"c", c.C, "r", c.R, "g", c.G, "b", c.B,
		"lux", c.Lux(), "cct_k", c.ColorTemperature())
	return true
}

func logProbeErr(l *slog.Logger, chip string, err error) {
	if errors.Is(err, errcode.UnknownChip) {
		l.Warn(chip+" id mismatch", "error", err)
		return
	}
	l.Debug(chip+" not present", "error", err)
}
