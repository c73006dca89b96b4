// Package regiotest provides an in-memory register file that satisfies
// tinygo's drivers.I2C, for exercising drivers without hardware.
package regiotest

import (
	"errors"
	"sync"
)

// ErrNACK is returned for transactions to an unknown address or a failing register.
var ErrNACK = errors.New("regiotest: nack")

// Write records one register write.
type Write struct {
	Reg uint8
	Val uint8
}

// Bus emulates a single device with a 256-byte auto-incrementing register file.
type Bus struct {
	mu sync.Mutex

	Addr uint16
	// CmdMask is cleared from the register pointer before addressing (e.g. 0x80 or 0xA0).
	CmdMask uint8
	Regs    [256]byte

	fail    map[uint8]error
	writes  []Write
	reads   int
	OnWrite func(reg, val uint8) // optional side effect hook, called with the lock held
}

// New returns a bus answering at addr.
func New(addr uint16) *Bus {
	return &Bus{Addr: addr, fail: map[uint8]error{}}
}

// Set loads bytes into consecutive registers starting at reg.
func (b *Bus) Set(reg uint8, vals ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range vals {
		b.Regs[(int(reg)+i)&0xFF] = v
	}
}

// Fail makes any transaction touching reg return err (ErrNACK when nil).
func (b *Bus) Fail(reg uint8, err error) {
	if err == nil {
		err = ErrNACK
	}
	b.mu.Lock()
	b.fail[reg] = err
	b.mu.Unlock()
}

// Heal removes all injected failures.
func (b *Bus) Heal() {
	b.mu.Lock()
	b.fail = map[uint8]error{}
	b.mu.Unlock()
}

// Writes returns a copy of the recorded register writes.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Write(nil), b.writes...)
}

// Reads returns the number of read transactions served.
func (b *Bus) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Tx implements drivers.I2C.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr != b.Addr {
		return ErrNACK
	}
	if len(w) == 0 {
		return ErrNACK
	}
	reg := w[0] &^ b.CmdMask
	if err := b.fail[reg]; err != nil {
		return err
	}
	for i, v := range w[1:] {
		rr := uint8(int(reg) + i)
		b.Regs[rr] = v
		b.writes = append(b.writes, Write{Reg: rr, Val: v})
		if b.OnWrite != nil {
			b.OnWrite(rr, v)
		}
	}
	if len(r) > 0 {
		b.reads++
		for i := range r {
			r[i] = b.Regs[uint8(int(reg)+i)]
		}
	}
	return nil
}
