// services/hal/hal.go
package hal

import (
	"context"
	"log/slog"

	"sensorcode-go/bus"
	"sensorcode-go/services/hal/internal/halcore"
	"sensorcode-go/services/hal/internal/service"

	// Device builders register themselves with the registry.
	_ "sensorcode-go/services/hal/internal/devices/bmx280"
	_ "sensorcode-go/services/hal/internal/devices/tcs34725"
)

// I2CBusFactory resolves the bus ids used in config/hal ("i2c1", ...).
type I2CBusFactory = halcore.I2CBusFactory

// I2CBusMap is a fixed set of named buses.
type I2CBusMap = halcore.I2CBusMap

// WorkerConfig tunes the per-bus measurement workers.
type WorkerConfig = halcore.WorkerConfig

// Run serves the HAL until ctx is cancelled. It waits for config/hal, builds
// the listed sensors against buses and publishes their readings under
// hal/capability/<kind>/<n>/.
func Run(ctx context.Context, conn *bus.Connection, buses I2CBusFactory) {
	service.New(conn, buses).Run(ctx)
}

// RunWith is Run with explicit worker timings and logger.
func RunWith(ctx context.Context, conn *bus.Connection, buses I2CBusFactory, wc WorkerConfig, logger *slog.Logger) {
	service.New(conn, buses).WithWorkerConfig(wc).WithLogger(logger).Run(ctx)
}
