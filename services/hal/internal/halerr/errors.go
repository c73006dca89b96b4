// services/hal/internal/halerr/errors.go
package halerr

import "sensorcode-go/errcode"

// HAL-level failures are errcode.Codes so errcode.Of and errors.Is see them
// the same way as driver errors. Where a canonical code exists it is reused.
const (
	// Service/control plane
	ErrBusy                        = errcode.Busy
	ErrInvalidPeriod  errcode.Code = "invalid_period"
	ErrInvalidCapAddr errcode.Code = "invalid_capability_address"
	ErrUnknownCap                  = errcode.UnknownCapability
	ErrNoAdaptor      errcode.Code = "no_adaptor"

	// Build/config
	ErrMissingBusRef errcode.Code = "missing_bus_ref"
	ErrUnknownBus                 = errcode.UnknownBus
	ErrUnknownType   errcode.Code = "unknown_device_type"

	// Generic / pass-through
	ErrUnsupported = errcode.Unsupported
)
