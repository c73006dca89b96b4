package bmx280

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestSenseEnv(t *testing.T) {
	d, _ := configured(t, ChipIDBME280)
	var e physic.Env
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	c := float64(e.Temperature-physic.ZeroCelsius) / float64(physic.Celsius)
	if !near(c, 25.08, 0.01) {
		t.Fatalf("temperature = %v (%g C)", e.Temperature, c)
	}
	if pa := float64(e.Pressure) / float64(physic.Pascal); !near(pa, 100653, 1) {
		t.Fatalf("pressure = %v", e.Pressure)
	}
	if rh := float64(e.Humidity) / float64(physic.PercentRH); !near(rh, 53206.0/1024, 0.001) {
		t.Fatalf("humidity = %v", e.Humidity)
	}
}

func TestSenseKeepsMissingFields(t *testing.T) {
	bus := newFakeBMx(ChipIDBMP280)
	bus.Set(regDigP1, 0, 0)
	d := New(bus, Config{})
	if err := d.Configure(); err != nil {
		t.Fatal(err)
	}
	e := physic.Env{Pressure: 7 * physic.Pascal, Humidity: 3 * physic.PercentRH}
	if err := d.Sense(&e); !errors.Is(err, ErrPressureUnavailable) {
		t.Fatalf("Sense = %v", err)
	}
	if e.Pressure != 7*physic.Pascal || e.Humidity != 3*physic.PercentRH {
		t.Fatalf("untouched fields changed: %+v", e)
	}
	if e.Temperature == 0 {
		t.Fatal("temperature not written")
	}
	if got := (Measurement{Temperature: 20}).Env(); got.Pressure != 0 || got.Humidity != 0 {
		t.Fatalf("Env = %+v", got)
	}
}
