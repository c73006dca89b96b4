// services/hal/internal/consts/consts.go
package consts

import "time"

// Top-level topics
const (
	TokConfig     = "config"
	TokHAL        = "hal"
	TokCapability = "capability"
	TokInfo       = "info"
	TokState      = "state"
	TokValue      = "value"
	TokControl    = "control"
)

// Control verbs handled by the service itself.
const (
	CtrlReadNow = "read_now"
	CtrlSetRate = "set_rate"
)

// Device control verbs passed through to adaptors.
const (
	CtrlSetGain            = "set_gain"
	CtrlSetIntegrationTime = "set_integration_time"
	CtrlReset              = "reset"
)

// Bus reference types.
const BusI2C = "i2c"

// Sampling period bounds and default.
const (
	MinPeriod     = 200 * time.Millisecond
	MaxPeriod     = time.Hour
	DefaultPeriod = 2 * time.Second
)
