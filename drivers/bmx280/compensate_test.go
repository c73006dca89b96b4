package bmx280

import (
	"errors"
	"math"
	"testing"

	"sensorcode-go/errcode"
)

// Worked example from the BMP280 datasheet, section 8.2.
func datasheetCal(path TempPath) Calibration {
	return Calibration{
		T1: 27504, T2: 26435, T3: -1000,
		P1: 36477, P2: -10685, P3: 3024, P4: 2855, P5: 140,
		P6: -7, P7: 15500, P8: -14600, P9: 6000,
		H1: 75, H2: 362, H3: 0, H4: 324, H5: 0, H6: 30,
		Humidity: true,
		Path:     path,
		loaded:   true,
	}
}

const (
	exampleAdcT = 519888
	exampleAdcP = 415148
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestTemperatureBothPaths(t *testing.T) {
	for _, tc := range []struct {
		name string
		path TempPath
	}{
		{"float", PathFloat},
		{"int", PathInt},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := datasheetCal(tc.path)
			got, fine, err := c.CompensateTemperature(exampleAdcT)
			if err != nil {
				t.Fatal(err)
			}
			if !near(got, 25.08, 0.01) {
				t.Fatalf("T = %.4f, want 25.08", got)
			}
			if !fine.Valid() || fine.Value() != 128422 {
				t.Fatalf("t_fine = %d (valid=%v), want 128422", fine.Value(), fine.Valid())
			}
		})
	}
}

func TestTemperatureIntPathIsExact(t *testing.T) {
	c := datasheetCal(PathInt)
	if got := c.fineInt(exampleAdcT); got != 128422 {
		t.Fatalf("fineInt = %d", got)
	}
	if got := tempCentiC(128422); got != 2508 {
		t.Fatalf("centi-degrees = %d, want 2508", got)
	}
}

func TestPressureDatasheet(t *testing.T) {
	c := datasheetCal(PathFloat)
	_, fine, _ := c.CompensateTemperature(exampleAdcT)

	q, ok := c.pressureQ24_8(fine.Value(), exampleAdcP)
	if !ok || q != 25767233 {
		t.Fatalf("Q24.8 = %d ok=%v", q, ok)
	}
	pa, ok, err := c.CompensatePressure(fine, exampleAdcP)
	if err != nil || !ok {
		t.Fatalf("CompensatePressure: ok=%v err=%v", ok, err)
	}
	if !near(pa, 100653, 1) {
		t.Fatalf("P = %.2f Pa, want ~100653", pa)
	}
}

func TestPressureUnavailable(t *testing.T) {
	c := datasheetCal(PathInt)
	c.P1 = 0
	_, fine, _ := c.CompensateTemperature(exampleAdcT)
	pa, ok, err := c.CompensatePressure(fine, exampleAdcP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || pa != 0 {
		t.Fatalf("want unavailable, got %.2f ok=%v", pa, ok)
	}
}

func TestPressureNegativeResultIsUnavailable(t *testing.T) {
	c := datasheetCal(PathInt)
	_, fine, _ := c.CompensateTemperature(exampleAdcT)
	for _, tc := range []struct {
		name       string
		p7, p8, p9 int16
	}{
		{"datasheet", c.P7, c.P8, c.P9},
		{"extreme", -32768, -32768, -32768},
	} {
		c.P7, c.P8, c.P9 = tc.p7, tc.p8, tc.p9
		if q, ok := c.pressureQ24_8(fine.Value(), 0xFFFFF); ok {
			t.Fatalf("%s: negative pressure wrapped to Q24.8 %d", tc.name, q)
		}
		pa, ok, err := c.CompensatePressure(fine, 0xFFFFF)
		if err != nil || ok || pa != 0 {
			t.Fatalf("%s: pa=%.2f ok=%v err=%v", tc.name, pa, ok, err)
		}
	}
}

func TestHumidity(t *testing.T) {
	c := datasheetCal(PathInt)
	_, fine, _ := c.CompensateTemperature(exampleAdcT)

	cases := []struct {
		adc  int32
		want float64
	}{
		{0, 0},
		{30000, 53206.0 / 1024},
		{32000, 64588.0 / 1024},
		{65535, 100},
		{1 << 20, 100}, // out of range, saturates
		{-1 << 20, 0},
	}
	for _, tc := range cases {
		got, err := c.CompensateHumidity(fine, tc.adc)
		if err != nil {
			t.Fatalf("adc=%d: %v", tc.adc, err)
		}
		if got != tc.want {
			t.Fatalf("adc=%d: got %.6f want %.6f", tc.adc, got, tc.want)
		}
		if got < 0 || got > 100 {
			t.Fatalf("adc=%d: %.3f out of range", tc.adc, got)
		}
	}
}

func TestHumidityClampsForExtremeFine(t *testing.T) {
	c := datasheetCal(PathInt)
	for _, fine := range []int32{-1 << 30, 0, 1 << 30} {
		tok := FineTemp{v: fine, cycle: 1}
		for _, adc := range []int32{0, 0xFFFF} {
			got, err := c.CompensateHumidity(tok, adc)
			if err != nil {
				t.Fatal(err)
			}
			if got < 0 || got > 100 {
				t.Fatalf("fine=%d adc=%d: %.3f", fine, adc, got)
			}
		}
	}
}

func TestCompensationNeedsStateAndToken(t *testing.T) {
	var zero Calibration
	got, fine, err := zero.CompensateTemperature(exampleAdcT)
	if !errors.Is(err, errcode.Uninitialised) || !errors.Is(err, ErrNotCalibrated) {
		t.Fatalf("temperature on zero calibration: %v", err)
	}
	if got != 0 || fine.Valid() {
		t.Fatalf("zero calibration produced %.2f (valid token=%v)", got, fine.Valid())
	}
	if _, _, err := zero.CompensatePressure(FineTemp{v: 1, cycle: 1}, exampleAdcP); !errors.Is(err, errcode.Uninitialised) {
		t.Fatalf("pressure on zero calibration: %v", err)
	}
	if _, err := zero.CompensateHumidity(FineTemp{v: 1, cycle: 1}, 1); !errors.Is(err, errcode.Uninitialised) {
		t.Fatalf("humidity on zero calibration: %v", err)
	}

	c := datasheetCal(PathInt)
	if _, _, err := c.CompensatePressure(FineTemp{}, exampleAdcP); !errors.Is(err, ErrNoFineTemp) {
		t.Fatalf("pressure without token: %v", err)
	}
	if _, err := c.CompensateHumidity(FineTemp{}, 30000); !errors.Is(err, errcode.Uninitialised) {
		t.Fatalf("humidity without token: %v", err)
	}

	c.Humidity = false
	_, fine, _ = c.CompensateTemperature(exampleAdcT)
	if _, err := c.CompensateHumidity(fine, 30000); !errors.Is(err, errcode.Unsupported) {
		t.Fatalf("humidity on BMP280: %v", err)
	}
}

func TestUnpackH4H5(t *testing.T) {
	cases := []struct {
		e4, e5, e6 uint8
		h4, h5     int16
	}{
		{0x14, 0x04, 0x00, 324, 0},
		{0x12, 0x34, 0x56, 0x123, 0x563},
		{0xFF, 0xF1, 0x80, -15, -2033},
	}
	for _, tc := range cases {
		h4, h5 := unpackH4H5(tc.e4, tc.e5, tc.e6)
		if h4 != tc.h4 || h5 != tc.h5 {
			t.Fatalf("unpack(%#x,%#x,%#x) = %d,%d want %d,%d", tc.e4, tc.e5, tc.e6, h4, h5, tc.h4, tc.h5)
		}
	}
}

func TestAltitude(t *testing.T) {
	if got := Altitude(101325, SeaLevelHPa); !near(got, 0, 0.1) {
		t.Fatalf("altitude at sea level = %.3f", got)
	}
	if got := Altitude(89874.6, SeaLevelHPa); !near(got, 1000, 5) {
		t.Fatalf("altitude at 898.7 hPa = %.1f, want ~1000", got)
	}
	if got := Altitude(101325, 0); !math.IsNaN(got) {
		t.Fatalf("zero reference = %v, want NaN", got)
	}
}
