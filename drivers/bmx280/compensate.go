package bmx280

import (
	"sensorcode-go/errcode"
	"sensorcode-go/x/mathx"
)

// FineTemp carries the intermediate t_fine value from a temperature
// compensation to the pressure and humidity compensations of the same
// reading cycle. The zero value is invalid.
type FineTemp struct {
	v     int32
	cycle uint32
	owner *Device
}

// Valid reports whether the token was produced by a temperature compensation.
func (f FineTemp) Valid() bool { return f.cycle != 0 }

// Value returns the raw t_fine.
func (f FineTemp) Value() int32 { return f.v }

var (
	ErrNotCalibrated       = errcode.New(errcode.Uninitialised, "bmx280", "calibration not loaded")
	ErrNoFineTemp          = errcode.New(errcode.Uninitialised, "bmx280", "no fine temperature for this reading cycle")
	ErrPressureUnavailable = errcode.New(errcode.Unavailable, "bmx280", "pressure compensation divisor is zero")
	ErrNoHumidity          = errcode.New(errcode.Unsupported, "bmx280", "humidity not available on this variant")
)

// humidity clamp bounds in Q22.10 << 12
const humMax = 419430400

// CompensateTemperature converts a 20-bit temperature ADC value to °C.
func (c *Calibration) CompensateTemperature(adc int32) (float64, FineTemp, error) {
	if !c.Loaded() {
		return 0, FineTemp{}, ErrNotCalibrated
	}
	if c.Path == PathInt {
		fine := c.fineInt(adc)
		return float64(tempCentiC(fine)) / 100, FineTemp{v: fine, cycle: 1}, nil
	}
	sum := c.fineFloat(adc)
	return sum / 5120, FineTemp{v: int32(sum), cycle: 1}, nil
}

func (c *Calibration) fineFloat(adc int32) float64 {
	a := float64(adc)
	t1 := float64(c.T1)
	var1 := (a/16384 - t1/1024) * float64(c.T2)
	d := a/131072 - t1/8192
	var2 := d * d * float64(c.T3)
	return var1 + var2
}

func (c *Calibration) fineInt(adc int32) int32 {
	a := int64(adc)
	t1 := int64(c.T1)
	var1 := (((a >> 3) - (t1 << 1)) * int64(c.T2)) >> 11
	d := (a >> 4) - t1
	var2 := (((d * d) >> 12) * int64(c.T3)) >> 14
	return int32(var1 + var2)
}

// tempCentiC is the integer-path temperature in 0.01 °C.
func tempCentiC(fine int32) int32 {
	return (fine*5 + 128) >> 8
}

// CompensatePressure converts a 20-bit pressure ADC value to Pa using the
// 64-bit datasheet algorithm. ok is false when the calibration makes the
// divisor zero or the result negative; no value is produced in that case.
func (c *Calibration) CompensatePressure(fine FineTemp, adc int32) (pa float64, ok bool, err error) {
	if !c.Loaded() {
		return 0, false, ErrNotCalibrated
	}
	if !fine.Valid() {
		return 0, false, ErrNoFineTemp
	}
	q, ok := c.pressureQ24_8(fine.v, adc)
	if !ok {
		return 0, false, nil
	}
	return float64(q) / 256, true, nil
}

// pressureQ24_8 returns pressure in Pa as unsigned Q24.8.
func (c *Calibration) pressureQ24_8(fine, adc int32) (uint32, bool) {
	var1 := int64(fine) - 128000
	var2 := var1 * var1 * int64(c.P6)
	var2 += (var1 * int64(c.P5)) << 17
	var2 += int64(c.P4) << 35
	var1 = ((var1 * var1 * int64(c.P3)) >> 8) + ((var1 * int64(c.P2)) << 12)
	var1 = (((int64(1) << 47) + var1) * int64(c.P1)) >> 33
	if var1 == 0 {
		return 0, false
	}
	p := 1048576 - int64(adc)
	p = (((p << 31) - var2) * 3125) / var1
	var1 = (int64(c.P9) * (p >> 13) * (p >> 13)) >> 25
	var2 = (int64(c.P8) * p) >> 19
	p = ((p + var1 + var2) >> 8) + (int64(c.P7) << 4)
	if p < 0 {
		return 0, false
	}
	return uint32(p), true
}

// CompensateHumidity converts a 16-bit humidity ADC value to %RH in [0, 100].
func (c *Calibration) CompensateHumidity(fine FineTemp, adc int32) (float64, error) {
	if !c.Loaded() {
		return 0, ErrNotCalibrated
	}
	if !c.Humidity {
		return 0, ErrNoHumidity
	}
	if !fine.Valid() {
		return 0, ErrNoFineTemp
	}
	return float64(c.humidityQ22_10(fine.v, adc)) / 1024, nil
}

// humidityQ22_10 returns relative humidity as unsigned Q22.10. Intermediates
// are 64-bit so out-of-range ADC values saturate at the clamp instead of
// wrapping.
func (c *Calibration) humidityQ22_10(fine, adc int32) uint32 {
	v := int64(fine) - 76800
	x := ((int64(adc) << 14) - (int64(c.H4) << 20) - (int64(c.H5) * v) + 16384) >> 15
	y := (((((v*int64(c.H6))>>10)*(((v*int64(c.H3))>>11)+32768))>>10)+2097152)*int64(c.H2) + 8192
	v = x * (y >> 14)
	v -= ((((v >> 15) * (v >> 15)) >> 7) * int64(c.H1)) >> 4
	v = mathx.Clamp(v, 0, humMax)
	return uint32(v >> 12)
}
