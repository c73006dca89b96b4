package bmx280

import (
	"sensorcode-go/drivers/regio"
)

// Variant selects the sensor family.
type Variant uint8

const (
	VariantAuto Variant = iota // resolve from the chip id
	VariantBMP280
	VariantBME280
)

func (v Variant) String() string {
	switch v {
	case VariantBMP280:
		return "bmp280"
	case VariantBME280:
		return "bme280"
	default:
		return "auto"
	}
}

// TempPath selects the temperature compensation arithmetic. The two datasheets
// publish different forms for the same constants and both are kept.
type TempPath uint8

const (
	PathAuto  TempPath = iota // PathFloat for BMP280, PathInt for BME280
	PathFloat                 // double-precision datasheet form
	PathInt                   // 32-bit integer shift form
)

// Calibration holds the factory trimming constants of one sensor.
// It is populated once by LoadCalibration and is read-only afterwards.
type Calibration struct {
	T1     uint16
	T2, T3 int16

	P1                             uint16
	P2, P3, P4, P5, P6, P7, P8, P9 int16

	// Humidity constants; only meaningful when Humidity is true.
	H1       uint8
	H2       int16
	H3       uint8
	H4, H5   int16 // 12-bit signed
	H6       int8
	Humidity bool

	Path TempPath

	loaded bool
}

// Loaded reports whether the constants came from a completed load.
func (c *Calibration) Loaded() bool { return c != nil && c.loaded }

// LoadCalibration reads every compensation constant from the device, one
// register transaction per constant. On error the returned Calibration is the
// zero value and must not be used.
func LoadCalibration(t regio.Transport, v Variant) (Calibration, error) {
	var c Calibration
	var err error

	word := func(reg uint8) uint16 {
		if err != nil {
			return 0
		}
		var w uint16
		w, err = t.Read16LE(reg)
		return w
	}
	byte8 := func(reg uint8) uint8 {
		if err != nil {
			return 0
		}
		var b uint8
		b, err = t.Read8(reg)
		return b
	}

	c.T1 = word(regDigT1)
	c.T2 = int16(word(regDigT2))
	c.T3 = int16(word(regDigT3))

	c.P1 = word(regDigP1)
	c.P2 = int16(word(regDigP2))
	c.P3 = int16(word(regDigP3))
	c.P4 = int16(word(regDigP4))
	c.P5 = int16(word(regDigP5))
	c.P6 = int16(word(regDigP6))
	c.P7 = int16(word(regDigP7))
	c.P8 = int16(word(regDigP8))
	c.P9 = int16(word(regDigP9))

	if v == VariantBME280 {
		c.H1 = byte8(regDigH1)
		c.H2 = int16(word(regDigH2))
		c.H3 = byte8(regDigH3)
		e4 := byte8(regDigH4)
		e5 := byte8(regDigH5)
		e6 := byte8(regDigH5 + 1)
		c.H4, c.H5 = unpackH4H5(e4, e5, e6)
		c.H6 = int8(byte8(regDigH6))
		c.Humidity = true
	}
	if err != nil {
		return Calibration{}, err
	}

	c.Path = resolvePath(PathAuto, v)
	c.loaded = true
	return c, nil
}

// unpackH4H5 decodes the two 12-bit constants that share register 0xE5:
//
//	H4 = 0xE4<<4 | 0xE5&0x0F
//	H5 = 0xE6<<4 | 0xE5>>4
//
// The high bytes are signed, so the results are sign-extended.
func unpackH4H5(e4, e5, e6 uint8) (h4, h5 int16) {
	h4 = int16(int8(e4))<<4 | int16(e5&0x0F)
	h5 = int16(int8(e6))<<4 | int16(e5>>4)
	return h4, h5
}

func resolvePath(p TempPath, v Variant) TempPath {
	if p != PathAuto {
		return p
	}
	if v == VariantBME280 {
		return PathInt
	}
	return PathFloat
}
