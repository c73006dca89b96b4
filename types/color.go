package types

// ------------------------
// Colour values
// ------------------------

// ColorValue carries the raw RGBC channel counts and the settings they were
// acquired with.
type ColorValue struct {
	C       uint16  `json:"c"`
	R       uint16  `json:"r"`
	G       uint16  `json:"g"`
	B       uint16  `json:"b"`
	Gain    int     `json:"gain"`
	ATimeMs float64 `json:"atime_ms"`
	TsMs    int64   `json:"ts_ms"`
}

type IlluminanceValue struct {
	Lux  float64 `json:"lux"`
	TsMs int64   `json:"ts_ms"`
}

type ColorTempValue struct {
	K    float64 `json:"k"`
	TsMs int64   `json:"ts_ms"`
}

// ------------------------
// Colour controls
// ------------------------

// SetGain is the payload for control/set_gain: 1, 4, 16 or 60.
type SetGain struct {
	Gain int `json:"gain"`
}

// SetIntegrationTime is the payload for control/set_integration_time:
// 2.4, 24, 50, 101, 154 or 700.
type SetIntegrationTime struct {
	Ms float64 `json:"ms"`
}
