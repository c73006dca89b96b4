// Package platform opens host I²C buses through periph and hands them to the
// HAL as tinygo drivers.I2C values.
package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// Init loads the periph host drivers. Safe to call more than once.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	return nil
}

// ParseBusMap parses "i2c1=1,i2c0=/dev/i2c-0" into logical id -> periph name.
// A bare entry "x" maps id x to periph name x.
func ParseBusMap(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, found := strings.Cut(part, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !found {
			name = id
		}
		if id == "" {
			return nil, fmt.Errorf("bad bus entry %q", part)
		}
		out[id] = name
	}
	if len(out) == 0 {
		return nil, errors.New("no I2C buses configured")
	}
	return out, nil
}

// I2CFactory opens periph buses on first use and keeps them open until Close.
type I2CFactory struct {
	log   *slog.Logger
	names map[string]string

	mu   sync.Mutex
	open map[string]i2c.BusCloser
}

func NewI2CFactory(names map[string]string, logger *slog.Logger) *I2CFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &I2CFactory{log: logger, names: names, open: map[string]i2c.BusCloser{}}
}

// ByID returns the bus for a logical id, opening it if needed.
func (f *I2CFactory) ByID(id string) (drivers.I2C, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.open[id]; ok {
		return b, true
	}
	name, ok := f.names[id]
	if !ok {
		return nil, false
	}
	b, err := i2creg.Open(name)
	if err != nil {
		f.log.Error("i2c open failed", "id", id, "name", name, "error", err)
		return nil, false
	}
	f.log.Info("i2c bus opened", "id", id, "bus", b.String())
	f.open[id] = b
	return b, true
}

// IDs lists the configured logical bus ids.
func (f *I2CFactory) IDs() []string {
	out := make([]string, 0, len(f.names))
	for id := range f.names {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *I2CFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for id, b := range f.open {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(f.open, id)
	}
	return errors.Join(errs...)
}
