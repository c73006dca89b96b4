// Package tcs34725 drives the ams TCS34725 RGBC colour light-to-digital
// converter over I2C.
package tcs34725

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"sensorcode-go/drivers/regio"
	"sensorcode-go/errcode"
)

var (
	ErrNotConfigured = errcode.New(errcode.Uninitialised, "tcs34725", "device not configured")
	ErrDisabled      = errcode.New(errcode.Unavailable, "tcs34725", "device powered down")
	ErrInvalidGain   = errcode.New(errcode.InvalidParams, "tcs34725", "invalid gain")
	ErrInvalidTime   = errcode.New(errcode.InvalidParams, "tcs34725", "invalid integration time")
)

type Config struct {
	Address         uint16 // default 0x29
	Gain            Gain
	IntegrationTime IntegrationTime // default 2.4 ms
}

type Device struct {
	mu  sync.Mutex
	dev *regio.Dev

	// Requested settings, picked up by the next acquisition.
	gain  atomic.Uint32
	itime atomic.Uint32

	// Settings currently in the chip.
	curGain  Gain
	curTime  IntegrationTime
	ready    bool
	powered  bool
	enableRg uint8
	buf      [8]byte

	sleep func(ctx context.Context, d time.Duration) error
}

func New(bus drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = AddressDefault
	}
	d := &Device{
		dev:   regio.New(bus, cfg.Address).WithCommandBit(cmdAutoIncrement),
		sleep: sleepCtx,
	}
	if cfg.Gain.Valid() {
		d.gain.Store(uint32(cfg.Gain))
	}
	if cfg.IntegrationTime.Valid() {
		d.itime.Store(uint32(cfg.IntegrationTime))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Configure checks the ID register, programs gain and integration time and
// powers the RGBC engine on.
func (d *Device) Configure() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ready = false
	id, err := d.dev.Read8(regID)
	if err != nil {
		return err
	}
	if id != ChipIDTCS34725 && id != ChipIDTCS34721 {
		return &errcode.E{C: errcode.UnknownChip, Op: "tcs34725.configure", Msg: fmt.Sprintf("chip id 0x%02x", id)}
	}

	g, it := d.pending()
	if err := d.dev.Write8(regATime, it.Register()); err != nil {
		return err
	}
	if err := d.dev.Write8(regControl, uint8(g)); err != nil {
		return err
	}
	d.curGain, d.curTime = g, it

	if err := d.enable(); err != nil {
		return err
	}
	d.ready = true
	return nil
}

func (d *Device) pending() (Gain, IntegrationTime) {
	return Gain(d.gain.Load()), IntegrationTime(d.itime.Load())
}

// enable powers the oscillator, waits the 2.4 ms warm-up and starts the ADC.
func (d *Device) enable() error {
	if err := d.dev.Write8(regEnable, d.enableRg|enablePON); err != nil {
		return err
	}
	time.Sleep(3 * time.Millisecond)
	if err := d.dev.Write8(regEnable, d.enableRg|enablePON|enableAEN); err != nil {
		return err
	}
	d.enableRg |= enablePON | enableAEN
	d.powered = true
	return nil
}

// Enable powers the device back on after Disable.
func (d *Device) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return ErrNotConfigured
	}
	return d.enable()
}

// Disable puts the device into its low-power sleep state.
func (d *Device) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, err := d.dev.Read8(regEnable)
	if err != nil {
		return err
	}
	reg &^= enablePON | enableAEN
	if err := d.dev.Write8(regEnable, reg); err != nil {
		return err
	}
	d.enableRg = reg
	d.powered = false
	return nil
}

// SetGain records the gain for the next acquisition. An acquisition already
// in progress is not affected.
func (d *Device) SetGain(g Gain) error {
	if !g.Valid() {
		return ErrInvalidGain
	}
	d.gain.Store(uint32(g))
	return nil
}

// SetIntegrationTime records the integration time for the next acquisition.
func (d *Device) SetIntegrationTime(t IntegrationTime) error {
	if !t.Valid() {
		return ErrInvalidTime
	}
	d.itime.Store(uint32(t))
	return nil
}

// Gain returns the gain the next acquisition will use.
func (d *Device) Gain() Gain { return Gain(d.gain.Load()) }

// IntegrationTime returns the integration time the next acquisition will use.
func (d *Device) IntegrationTime() IntegrationTime { return IntegrationTime(d.itime.Load()) }

// ReadRaw applies any pending settings, waits one integration period and
// reads the four channels in a single burst. The wait returns early with
// ctx.Err() if ctx is cancelled.
func (d *Device) ReadRaw(ctx context.Context) (Color, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wait, err := d.begin()
	if err != nil {
		return Color{}, err
	}
	if err := d.sleep(ctx, wait); err != nil {
		return Color{}, err
	}
	return d.channels()
}

// Begin starts an acquisition: pending gain and integration time are
// written and the wait before Channels holds a complete integration is
// returned. Setter calls after Begin only affect the next acquisition.
func (d *Device) Begin() (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begin()
}

// Channels reads C, R, G and B without waiting.
func (d *Device) Channels() (Color, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return Color{}, err
	}
	return d.channels()
}

// Settings returns the gain and integration time of the last acquisition.
func (d *Device) Settings() (Gain, IntegrationTime) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.curGain, d.curTime
}

func (d *Device) usable() error {
	if !d.ready {
		return ErrNotConfigured
	}
	if !d.powered {
		return ErrDisabled
	}
	return nil
}

func (d *Device) begin() (time.Duration, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	g, it := d.pending()
	if it != d.curTime {
		if err := d.dev.Write8(regATime, it.Register()); err != nil {
			return 0, err
		}
		d.curTime = it
	}
	if g != d.curGain {
		if err := d.dev.Write8(regControl, uint8(g)); err != nil {
			return 0, err
		}
		d.curGain = g
	}
	return it.Duration(), nil
}

func (d *Device) channels() (Color, error) {
	if err := d.dev.ReadBlock(regCDataL, d.buf[:]); err != nil {
		return Color{}, err
	}
	b := d.buf
	return Color{
		C: uint16(b[0]) | uint16(b[1])<<8,
		R: uint16(b[2]) | uint16(b[3])<<8,
		G: uint16(b[4]) | uint16(b[5])<<8,
		B: uint16(b[6]) | uint16(b[7])<<8,
	}, nil
}

// Ready reports STATUS.AVALID: an integration cycle has completed since the
// ADC was enabled.
func (d *Device) Ready() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, err := d.dev.Read8(regStatus)
	if err != nil {
		return false, err
	}
	return st&statusAVALID != 0, nil
}

// Interrupt reports STATUS.AINT: a clear-channel interrupt is latched.
func (d *Device) Interrupt() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, err := d.dev.Read8(regStatus)
	if err != nil {
		return false, err
	}
	return st&statusAINT != 0, nil
}

// SetInterrupt enables or disables the clear-channel threshold interrupt.
func (d *Device) SetInterrupt(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, err := d.dev.Read8(regEnable)
	if err != nil {
		return err
	}
	if on {
		reg |= enableAIEN
	} else {
		reg &^= enableAIEN
	}
	if err := d.dev.Write8(regEnable, reg); err != nil {
		return err
	}
	d.enableRg = reg
	return nil
}

// SetInterruptLimits sets the clear-channel thresholds outside which the
// interrupt fires.
func (d *Device) SetInterruptLimits(low, high uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range [...]struct{ reg, val uint8 }{
		{regAILTL, uint8(low)},
		{regAILTL + 1, uint8(low >> 8)},
		{regAIHTL, uint8(high)},
		{regAIHTL + 1, uint8(high >> 8)},
	} {
		if err := d.dev.Write8(w.reg, w.val); err != nil {
			return err
		}
	}
	return nil
}

// ClearInterrupt clears a latched clear-channel interrupt.
func (d *Device) ClearInterrupt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.Command(sfClearInterrupt)
}
