package types

import "time"

// ------------------------
// HAL configuration (config/hal)
// ------------------------

type HALConfig struct {
	Devices []Device `json:"devices"`
}

type Device struct {
	ID     string `json:"id"`               // logical device id, e.g. "env0"
	Type   string `json:"type"`             // "bme280", "bmp280", "tcs34725"
	Params any    `json:"params,omitempty"` // device-specific params (JSON-like)
	BusRef BusRef `json:"bus_ref"`
}

type BusRef struct {
	Type string `json:"type"` // "i2c"
	ID   string `json:"id"`   // e.g. "i2c1"
}

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string    `json:"level"`  // "idle", "ready", "error", "stopped"
	Status string    `json:"status"` // short code
	Error  string    `json:"error,omitempty"`
	TS     time.Time `json:"ts"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityState struct {
	Link  Link      `json:"link"`
	TS    time.Time `json:"ts"`
	Error string    `json:"error,omitempty"` // errcode string
}

// ------------------------
// Control payloads and replies
// ------------------------

// SetRate is the payload for control/set_rate.
type SetRate struct {
	Period time.Duration `json:"period"`
}

type SetRateAck struct {
	OK     bool          `json:"ok"`
	Period time.Duration `json:"period"`
}

type ReadNowAck struct {
	OK bool `json:"ok"`
}

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ------------------------
// Info envelope (retained)
// ------------------------

type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Driver        string `json:"driver"`
	Detail        any    `json:"detail,omitempty"`
}

type SensorInfo struct {
	Sensor string `json:"sensor"` // "bme280", "bmp280", "tcs34725"
	Addr   uint16 `json:"addr"`
	Bus    string `json:"bus"`
	Unit   string `json:"unit"`
}
