// services/hal/internal/halcore/types.go
package halcore

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"

	"sensorcode-go/errcode"
)

// Reading is one datum for one capability kind.
type Reading struct {
	Kind    string // e.g. "temperature", "pressure", "color"
	Payload any    // JSON-serialisable
	TsMs    int64  // producer timestamp (ms)
	Err     error  // set when this kind could not be produced this cycle
}

// Sample is a batch collected together.
type Sample []Reading

// CapInfo describes one capability’s retained info document.
type CapInfo struct {
	Kind string // capability kind
	Info any    // small JSONable document
}

// Adaptor abstracts a concrete device/driver. Must not own goroutines or the bus.
type Adaptor interface {
	ID() string
	Capabilities() []CapInfo
	// Split-phase measurement cycle.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	Collect(ctx context.Context) (Sample, error)
	// Optional pass-through control for device-specific methods.
	Control(kind, method string, payload any) (result any, err error)
}

// WorkerConfig centralises timings and limits.
type WorkerConfig struct {
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	InputQueueSize int
}

// MeasureReq asks a worker to service an adaptor.
type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Prio    bool // true for "read_now"
}

// Result emitted by a worker.
type Result struct {
	ID     string
	Sample Sample
	Err    error
}

var (
	// ErrNotReady signals the worker to retry Collect after backoff.
	ErrNotReady = errors.New("not ready")
	// ErrUnsupported is returned by Control for methods an adaptor lacks.
	ErrUnsupported error = errcode.Unsupported
)

// I2CBusFactory injects configured I²C instances by id.
// Uses the TinyGo drivers.I2C interface to remain compatible on MCU builds.
type I2CBusFactory interface {
	ByID(id string) (drivers.I2C, bool)
}

// I2CBusMap is a static I2CBusFactory.
type I2CBusMap map[string]drivers.I2C

func (m I2CBusMap) ByID(id string) (drivers.I2C, bool) {
	b, ok := m[id]
	return b, ok
}
