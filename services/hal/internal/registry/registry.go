// services/hal/internal/registry/registry.go
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"sensorcode-go/services/hal/internal/consts"
	"sensorcode-go/services/hal/internal/halcore"
	"sensorcode-go/services/hal/internal/halerr"
)

// BuildInput is passed to a device builder.
type BuildInput struct {
	Ctx        context.Context
	Buses      halcore.I2CBusFactory
	DeviceID   string
	Type       string
	ParamsJSON any
	BusRefType string // e.g. "i2c"
	BusRefID   string // e.g. "i2c1"
}

// I2C resolves the device's bus reference. Every sensor here sits on I²C.
func (in BuildInput) I2C() (drivers.I2C, error) {
	if in.BusRefType != consts.BusI2C || in.BusRefID == "" {
		return nil, halerr.ErrMissingBusRef
	}
	if in.Buses == nil {
		return nil, halerr.ErrUnknownBus
	}
	b, ok := in.Buses.ByID(in.BusRefID)
	if !ok {
		return nil, fmt.Errorf("%w %q", halerr.ErrUnknownBus, in.BusRefID)
	}
	return b, nil
}

// Period turns a period_ms param into a sampling period; zero or less
// gives the default.
func Period(ms int) time.Duration {
	if ms <= 0 {
		return consts.DefaultPeriod
	}
	return time.Duration(ms) * time.Millisecond
}

// BuildOutput describes a constructed device.
type BuildOutput struct {
	Adaptor     halcore.Adaptor
	BusID       string        // worker key; devices on one bus share a worker
	SampleEvery time.Duration // 0 if not a periodic producer
}

// Builder creates an adaptor from config and factories.
type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func RegisterBuilder(deviceType string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[deviceType]; exists {
		panic(fmt.Sprintf("device builder already registered for type %q", deviceType))
	}
	builders[deviceType] = b
}

func Lookup(deviceType string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[deviceType]
	return b, ok
}

// Types lists registered device types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for t := range builders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
