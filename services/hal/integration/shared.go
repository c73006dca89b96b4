package integration

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"sensorcode-go/bus"
	"sensorcode-go/drivers/regio/regiotest"
)

func recvOrTimeout(ch <-chan *bus.Message, d time.Duration) (*bus.Message, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m := <-ch:
		return m, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

// sharedBus routes transactions by address to per-device fakes and records
// whether two transactions ever overlapped.
type sharedBus struct {
	mu      sync.Mutex
	devs    map[uint16]drivers.I2C
	busy    bool
	overlap bool
}

func newSharedBus(devs map[uint16]drivers.I2C) *sharedBus {
	return &sharedBus{devs: devs}
}

func (s *sharedBus) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	if s.busy {
		s.overlap = true
	}
	s.busy = true
	d := s.devs[addr]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()
	if d == nil {
		return regiotest.ErrNACK
	}
	return d.Tx(addr, w, r)
}

func (s *sharedBus) Overlapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}

// bme280 at 0x76 loaded with the datasheet example constants and ADC values.
func fakeBME280() *regiotest.Bus {
	b := regiotest.New(0x76)
	b.Set(0xD0, 0x60)
	words := []int32{27504, 26435, -1000, 36477, -10685, 3024, 2855, 140, -7, 15500, -14600, 6000}
	buf := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(w))
	}
	b.Set(0x88, buf...)
	b.Set(0xA1, 75)
	b.Set(0xE1, 0x6A, 0x01, 0x00, 0x14, 0x04, 0x00, 30)
	b.Set(0xF7, 0x65, 0x5A, 0xC0, 0x7E, 0xED, 0x00, 0x75, 0x30)
	return b
}

// tcs34725 at 0x29 with a valid reading of R=2000 G=1500 B=1000.
func fakeTCS34725() *regiotest.Bus {
	b := regiotest.New(0x29)
	b.CmdMask = 0xA0
	b.Set(0x12, 0x44)
	b.Set(0x13, 0x01)
	b.Set(0x14, 0x34, 0x12, 0xD0, 0x07, 0xDC, 0x05, 0xE8, 0x03)
	return b
}
