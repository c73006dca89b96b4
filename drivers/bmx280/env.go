package bmx280

import (
	"math"

	"periph.io/x/conn/v3/physic"
)

// Env converts m to periph units. Pressure and humidity stay zero when the
// reading did not produce them.
func (m Measurement) Env() physic.Env {
	var e physic.Env
	m.fill(&e)
	return e
}

func (m Measurement) fill(e *physic.Env) {
	e.Temperature = physic.ZeroCelsius + physic.Temperature(math.Round(m.Temperature*float64(physic.Celsius)))
	if m.PressureValid {
		e.Pressure = physic.Pressure(math.Round(m.Pressure * float64(physic.Pascal)))
	}
	if m.HasHumidity {
		e.Humidity = physic.RelativeHumidity(math.Round(m.Humidity * float64(physic.PercentRH)))
	}
}

// Sense reads one cycle into e, in the manner of periph's physic.SenseEnv.
// Fields the cycle could not produce are left unmodified; an unusable
// pressure divisor is reported as ErrPressureUnavailable after the other
// fields have been written.
func (d *Device) Sense(e *physic.Env) error {
	m, err := d.Read()
	if err != nil {
		return err
	}
	old := *e
	m.fill(e)
	if !m.HasHumidity {
		e.Humidity = old.Humidity
	}
	if !m.PressureValid {
		e.Pressure = old.Pressure
		return ErrPressureUnavailable
	}
	return nil
}
