package tcs34725

import (
	"fmt"
	"math"
	"time"
)

// Gain is the analogue RGBC gain. The value is the CONTROL register encoding.
type Gain uint8

const (
	Gain1x  Gain = 0x00
	Gain4x  Gain = 0x01
	Gain16x Gain = 0x02
	Gain60x Gain = 0x03
)

func (g Gain) Valid() bool { return g <= Gain60x }

// Factor returns the multiplier (1, 4, 16 or 60).
func (g Gain) Factor() int {
	switch g {
	case Gain4x:
		return 4
	case Gain16x:
		return 16
	case Gain60x:
		return 60
	default:
		return 1
	}
}

func (g Gain) String() string { return fmt.Sprintf("%dx", g.Factor()) }

// ParseGain accepts the multiplier (1, 4, 16, 60).
func ParseGain(factor int) (Gain, bool) {
	switch factor {
	case 1:
		return Gain1x, true
	case 4:
		return Gain4x, true
	case 16:
		return Gain16x, true
	case 60:
		return Gain60x, true
	}
	return 0, false
}

// IntegrationTime is the RGBC ADC integration period.
type IntegrationTime uint8

const (
	IntegrationTime2_4ms IntegrationTime = iota
	IntegrationTime24ms
	IntegrationTime50ms
	IntegrationTime101ms
	IntegrationTime154ms
	IntegrationTime700ms
)

var integrationTable = [...]struct {
	atime uint8
	wait  time.Duration
	ms    float64
}{
	IntegrationTime2_4ms: {0xFF, 3 * time.Millisecond, 2.4},
	IntegrationTime24ms:  {0xF6, 24 * time.Millisecond, 24},
	IntegrationTime50ms:  {0xEB, 50 * time.Millisecond, 50},
	IntegrationTime101ms: {0xD5, 101 * time.Millisecond, 101},
	IntegrationTime154ms: {0xC0, 154 * time.Millisecond, 154},
	IntegrationTime700ms: {0x00, 700 * time.Millisecond, 700},
}

func (t IntegrationTime) Valid() bool { return int(t) < len(integrationTable) }

// Register returns the ATIME encoding.
func (t IntegrationTime) Register() uint8 {
	if !t.Valid() {
		return integrationTable[0].atime
	}
	return integrationTable[t].atime
}

// Duration is the wait after starting an acquisition before the data
// registers hold a complete integration. 2.4 ms rounds up to 3 ms.
func (t IntegrationTime) Duration() time.Duration {
	if !t.Valid() {
		return integrationTable[0].wait
	}
	return integrationTable[t].wait
}

// Milliseconds is the nominal integration period.
func (t IntegrationTime) Milliseconds() float64 {
	if !t.Valid() {
		return integrationTable[0].ms
	}
	return integrationTable[t].ms
}

func (t IntegrationTime) String() string {
	return fmt.Sprintf("%gms", t.Milliseconds())
}

// ParseIntegrationTime accepts the nominal period in ms (2.4, 24, 50, 101, 154, 700).
func ParseIntegrationTime(ms float64) (IntegrationTime, bool) {
	for i, e := range integrationTable {
		if e.ms == ms {
			return IntegrationTime(i), true
		}
	}
	return 0, false
}

// Color is one raw RGBC sample.
type Color struct {
	C, R, G, B uint16
}

// Lux is CalculateLux over the sample's red, green and blue channels.
func (c Color) Lux() float64 { return CalculateLux(c.R, c.G, c.B) }

// ColorTemperature is CalculateColorTemperature over the sample.
func (c Color) ColorTemperature() float64 { return CalculateColorTemperature(c.R, c.G, c.B) }

// RGB->XYZ correlation, fitted to 6500 K fluorescent, 3000 K fluorescent and
// 60 W incandescent sources. Y is illuminance.
var (
	rowX = [3]float64{-0.14282, 1.54924, -0.95641}
	rowY = [3]float64{-0.32466, 1.57837, -0.73191}
	rowZ = [3]float64{-0.68202, 0.77073, 0.56332}
)

func dot(row [3]float64, r, g, b float64) float64 {
	return row[0]*r + row[1]*g + row[2]*b
}

// CalculateLux returns illuminance from the red, green and blue channels.
// The clear channel is not used.
func CalculateLux(r, g, b uint16) float64 {
	return dot(rowY, float64(r), float64(g), float64(b))
}

// CalculateColorTemperature returns the correlated colour temperature in
// Kelvin using McCamy's approximation. The clear channel is not used. A
// black sample yields NaN.
func CalculateColorTemperature(r, g, b uint16) float64 {
	rf, gf, bf := float64(r), float64(g), float64(b)
	x := dot(rowX, rf, gf, bf)
	y := dot(rowY, rf, gf, bf)
	z := dot(rowZ, rf, gf, bf)

	sum := x + y + z
	if sum == 0 {
		return math.NaN()
	}
	xc, yc := x/sum, y/sum

	n := (xc - 0.3320) / (0.1858 - yc)
	return 449*n*n*n + 3525*n*n + 6823.3*n + 5520.33
}
