// Package bmx280 drives the Bosch BMP280 (temperature, pressure) and BME280
// (temperature, pressure, humidity) over I2C.
package bmx280

import (
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"sensorcode-go/drivers/regio"
	"sensorcode-go/errcode"
)

// Oversample is the per-channel oversampling ratio. The zero value keeps the
// driver default for that channel.
type Oversample uint8

const (
	OversampleDefault Oversample = iota
	OversampleSkip
	Oversample1
	Oversample2
	Oversample4
	Oversample8
	Oversample16
)

func (o Oversample) bits(def uint8) uint8 {
	if o == OversampleDefault {
		return def
	}
	return uint8(o - 1)
}

type Oversampling struct {
	Temperature Oversample // default x1
	Pressure    Oversample // default x16
	Humidity    Oversample // default x4, BME280 only
}

// Filter is the IIR filter coefficient.
type Filter uint8

const (
	FilterOff Filter = iota
	Filter2
	Filter4
	Filter8
	Filter16
)

// Standby is the inactive time between normal-mode measurements.
type Standby uint8

const (
	Standby0_5ms Standby = iota
	Standby62_5ms
	Standby125ms
	Standby250ms
	Standby500ms
	Standby1000ms
	Standby10ms // 2000 ms on BMP280
	Standby20ms // 4000 ms on BMP280
)

type Config struct {
	Address      uint16  // default 0x77
	Variant      Variant // VariantAuto reads the chip id
	TempPath     TempPath
	Standby      Standby
	Filter       Filter
	Oversampling Oversampling
}

// Measurement is one complete reading cycle.
type Measurement struct {
	Temperature   float64 // °C
	Pressure      float64 // Pa
	PressureValid bool
	Humidity      float64 // %RH
	HasHumidity   bool
}

// Device is a single BMP280/BME280. All methods are safe for concurrent use;
// bus access is serialised per instance.
type Device struct {
	mu      sync.Mutex
	dev     *regio.Dev
	cfg     Config
	variant Variant
	cal     Calibration
	cycle   uint32
	burst   [8]byte
}

// New returns a device bound to bus. Configure must be called before reading.
func New(bus drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = AddressDefault
	}
	return &Device{
		dev: regio.New(bus, cfg.Address),
		cfg: cfg,
	}
}

// Variant returns the resolved sensor family; VariantAuto until configured.
func (d *Device) Variant() Variant {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.variant
}

// Calibration returns a copy of the loaded constants.
func (d *Device) Calibration() Calibration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal
}

// Configure identifies the chip, loads its calibration and writes the
// measurement control registers.
func (d *Device) Configure() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cal = Calibration{}
	id, err := d.dev.Read8(regChipID)
	if err != nil {
		return err
	}
	v, err := variantFor(id)
	if err != nil {
		return err
	}
	if d.cfg.Variant != VariantAuto && d.cfg.Variant != v {
		return errcode.New(errcode.UnknownChip, "bmx280.configure",
			"chip id does not match configured variant "+d.cfg.Variant.String())
	}

	cal, err := LoadCalibration(d.dev, v)
	if err != nil {
		return err
	}
	cal.Path = resolvePath(d.cfg.TempPath, v)

	ovs := d.cfg.Oversampling
	if v == VariantBME280 {
		// ctrl_hum only takes effect after a write to ctrl_meas.
		if err := d.dev.Write8(regCtrlHum, ovs.Humidity.bits(defaultCtrlHum)&0x07); err != nil {
			return err
		}
	}
	meas := ovs.Temperature.bits(defaultCtrlMeas>>5)<<5 |
		ovs.Pressure.bits((defaultCtrlMeas>>2)&0x07)<<2 |
		defaultCtrlMeas&0x03
	if err := d.dev.Write8(regCtrlMeas, meas); err != nil {
		return err
	}
	if err := d.dev.Write8(regConfig, uint8(d.cfg.Standby&0x07)<<5|uint8(d.cfg.Filter&0x07)<<2); err != nil {
		return err
	}

	d.variant = v
	d.cal = cal
	d.cycle++
	return nil
}

func variantFor(id uint8) (Variant, error) {
	switch id {
	case ChipIDBME280:
		return VariantBME280, nil
	case ChipIDBMP280, chipIDBMP280S1, chipIDBMP280S2:
		return VariantBMP280, nil
	}
	return VariantAuto, &errcode.E{C: errcode.UnknownChip, Op: "bmx280.configure", Msg: fmt.Sprintf("chip id 0x%02x", id)}
}

// ReadTemperature starts a new reading cycle and returns °C with the token
// required by ReadPressure and ReadHumidity.
func (d *Device) ReadTemperature() (float64, FineTemp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readTemperature()
}

func (d *Device) readTemperature() (float64, FineTemp, error) {
	if !d.cal.Loaded() {
		return 0, FineTemp{}, ErrNotCalibrated
	}
	raw, err := d.dev.Read24(regTempMSB)
	if err != nil {
		return 0, FineTemp{}, err
	}
	t, fine, err := d.cal.CompensateTemperature(int32(raw >> 4))
	if err != nil {
		return 0, FineTemp{}, err
	}
	return t, d.stamp(fine), nil
}

// stamp binds an engine token to a fresh reading cycle of this device.
// Callers hold d.mu.
func (d *Device) stamp(f FineTemp) FineTemp {
	d.cycle++
	if d.cycle == 0 {
		d.cycle = 1
	}
	f.cycle = d.cycle
	f.owner = d
	return f
}

func (d *Device) current(f FineTemp) bool {
	return f.owner == d && f.cycle != 0 && f.cycle == d.cycle
}

// ReadPressure returns Pa for the reading cycle of fine.
func (d *Device) ReadPressure(fine FineTemp) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readPressure(fine)
}

func (d *Device) readPressure(fine FineTemp) (float64, error) {
	if !d.cal.Loaded() {
		return 0, ErrNotCalibrated
	}
	if !d.current(fine) {
		return 0, ErrNoFineTemp
	}
	raw, err := d.dev.Read24(regPressMSB)
	if err != nil {
		return 0, err
	}
	pa, ok, err := d.cal.CompensatePressure(fine, int32(raw>>4))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrPressureUnavailable
	}
	return pa, nil
}

// ReadHumidity returns %RH for the reading cycle of fine. BME280 only.
func (d *Device) ReadHumidity(fine FineTemp) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.cal.Loaded() {
		return 0, ErrNotCalibrated
	}
	if !d.cal.Humidity {
		return 0, ErrNoHumidity
	}
	if !d.current(fine) {
		return 0, ErrNoFineTemp
	}
	raw, err := d.dev.Read16BE(regHumMSB)
	if err != nil {
		return 0, err
	}
	return d.cal.CompensateHumidity(fine, int32(raw))
}

// ReadAltitude runs a temperature and pressure cycle and converts the
// pressure to metres against seaLevelHPa.
func (d *Device) ReadAltitude(seaLevelHPa float64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, fine, err := d.readTemperature()
	if err != nil {
		return 0, err
	}
	pa, err := d.readPressure(fine)
	if err != nil {
		return 0, err
	}
	return Altitude(pa, seaLevelHPa), nil
}

// Read performs one burst read of the data registers and compensates every
// channel from that single snapshot.
func (d *Device) Read() (Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.cal.Loaded() {
		return Measurement{}, ErrNotCalibrated
	}
	n := 6
	if d.cal.Humidity {
		n = 8
	}
	buf := d.burst[:n]
	if err := d.dev.ReadBlock(regPressMSB, buf); err != nil {
		return Measurement{}, err
	}
	adcP := int32(uint32(buf[0])<<12 | uint32(buf[1])<<4 | uint32(buf[2])>>4)
	adcT := int32(uint32(buf[3])<<12 | uint32(buf[4])<<4 | uint32(buf[5])>>4)

	var m Measurement
	t, fine, err := d.cal.CompensateTemperature(adcT)
	if err != nil {
		return Measurement{}, err
	}
	fine = d.stamp(fine)
	m.Temperature = t

	pa, ok, err := d.cal.CompensatePressure(fine, adcP)
	if err != nil {
		return Measurement{}, err
	}
	m.Pressure, m.PressureValid = pa, ok

	if d.cal.Humidity {
		h, err := d.cal.CompensateHumidity(fine, int32(uint16(buf[6])<<8|uint16(buf[7])))
		if err != nil {
			return Measurement{}, err
		}
		m.Humidity, m.HasHumidity = h, true
	}
	return m, nil
}

// MeasurementTime is the datasheet maximum duration of one forced or
// normal-mode conversion for the configured oversampling.
func (d *Device) MeasurementTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	ovs := d.cfg.Oversampling
	us := 1250 + 2300*factor(ovs.Temperature.bits(defaultCtrlMeas>>5))
	if p := factor(ovs.Pressure.bits((defaultCtrlMeas >> 2) & 0x07)); p > 0 {
		us += 2300*p + 575
	}
	if d.variant == VariantBME280 || d.cfg.Variant == VariantBME280 {
		if h := factor(ovs.Humidity.bits(defaultCtrlHum)); h > 0 {
			us += 2300*h + 575
		}
	}
	return time.Duration(us) * time.Microsecond
}

// factor maps an osrs_x field to its oversampling ratio.
func factor(bits uint8) int {
	if bits == 0 {
		return 0
	}
	if bits >= 5 {
		return 16
	}
	return 1 << (bits - 1)
}

// Measuring reports whether a conversion is running (status bit 3).
func (d *Device) Measuring() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, err := d.dev.Read8(regStatus)
	if err != nil {
		return false, err
	}
	return st&0x08 != 0, nil
}

// Reset issues a soft reset. The calibration is discarded and Configure must
// be called again.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal = Calibration{}
	d.variant = VariantAuto
	d.cycle++
	if err := d.dev.Write8(regSoftReset, softResetCmd); err != nil {
		return err
	}
	time.Sleep(2 * time.Millisecond)
	return nil
}
