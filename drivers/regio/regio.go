// Package regio provides byte-addressed register access to an I2C peripheral.
//
// Sensor drivers depend on the Transport interface rather than on a bus type,
// so the same compensation code runs against a TinyGo machine.I2C, a periph.io
// host bus or a test fake. Dev is the concrete Transport over drivers.I2C.
//
// NOTE: drivers.I2C.Tx MUST perform a write followed by a repeated-start read
// when both w and r are provided, without releasing the bus.
package regio

import (
	"fmt"

	"sensorcode-go/errcode"

	"tinygo.org/x/drivers"
)

// Transport is the register capability a sensor driver needs.
// Multi-byte reads are a single bus transaction starting at reg.
type Transport interface {
	Read8(reg uint8) (uint8, error)
	Read16LE(reg uint8) (uint16, error)
	Read16BE(reg uint8) (uint16, error)
	Read24(reg uint8) (uint32, error)
	ReadBlock(reg uint8, buf []byte) error
	Write8(reg, val uint8) error
}

// Dev binds a bus to one 7-bit device address.
type Dev struct {
	bus  drivers.I2C
	addr uint16
	cmd  uint8 // OR-ed into every register address

	// Fixed buffers to avoid per-call heap allocations.
	w [2]byte
	r [3]byte
}

var _ Transport = (*Dev)(nil)

// New returns a register accessor for addr on bus. It does not touch the bus.
func New(bus drivers.I2C, addr uint16) *Dev {
	return &Dev{bus: bus, addr: addr}
}

// WithCommandBit sets a mask that is OR-ed into every register address
// (e.g. 0x80 for the TCS3472x command register).
func (d *Dev) WithCommandBit(bit uint8) *Dev {
	d.cmd = bit
	return d
}

// Address returns the 7-bit device address.
func (d *Dev) Address() uint16 { return d.addr }

func (d *Dev) read(op string, reg uint8, r []byte) error {
	d.w[0] = reg | d.cmd
	if err := d.bus.Tx(d.addr, d.w[:1], r); err != nil {
		return &errcode.E{C: errcode.Transport, Op: op, Msg: fmt.Sprintf("addr 0x%02x reg 0x%02x", d.addr, reg), Err: err}
	}
	return nil
}

func (d *Dev) Read8(reg uint8) (uint8, error) {
	if err := d.read("regio.read8", reg, d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}

// Read16LE reads reg (low byte) and reg+1 (high byte).
func (d *Dev) Read16LE(reg uint8) (uint16, error) {
	if err := d.read("regio.read16", reg, d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

// Read16BE reads reg (high byte) and reg+1 (low byte).
func (d *Dev) Read16BE(reg uint8) (uint16, error) {
	if err := d.read("regio.read16", reg, d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0])<<8 | uint16(d.r[1]), nil
}

// Read24 reads three bytes MSB first.
func (d *Dev) Read24(reg uint8) (uint32, error) {
	if err := d.read("regio.read24", reg, d.r[:3]); err != nil {
		return 0, err
	}
	return uint32(d.r[0])<<16 | uint32(d.r[1])<<8 | uint32(d.r[2]), nil
}

// ReadBlock fills buf starting at reg in one transaction.
func (d *Dev) ReadBlock(reg uint8, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return d.read("regio.readblock", reg, buf)
}

func (d *Dev) Write8(reg, val uint8) error {
	d.w[0] = reg | d.cmd
	d.w[1] = val
	if err := d.bus.Tx(d.addr, d.w[:2], nil); err != nil {
		return &errcode.E{C: errcode.Transport, Op: "regio.write8", Msg: fmt.Sprintf("addr 0x%02x reg 0x%02x", d.addr, reg), Err: err}
	}
	return nil
}

// Command writes the register pointer alone. Some parts use this for
// special functions (e.g. clearing an interrupt).
func (d *Dev) Command(reg uint8) error {
	d.w[0] = reg | d.cmd
	if err := d.bus.Tx(d.addr, d.w[:1], nil); err != nil {
		return &errcode.E{C: errcode.Transport, Op: "regio.command", Msg: fmt.Sprintf("addr 0x%02x reg 0x%02x", d.addr, reg), Err: err}
	}
	return nil
}
