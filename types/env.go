package types

// Capability kinds published under hal/capability/<kind>/<n>/...
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindPressure    Kind = "pressure"
	KindHumidity    Kind = "humidity"
	KindAltitude    Kind = "altitude"
	KindColor       Kind = "color"
	KindIlluminance Kind = "illuminance"
	KindColorTemp   Kind = "color_temperature"
)

// ------------------------
// Environmental values (hal/capability/<kind>/<n>/value)
// ------------------------

type TemperatureValue struct {
	C    float64 `json:"c"`
	TsMs int64   `json:"ts_ms"`
}

type PressureValue struct {
	Pa   float64 `json:"pa"`
	TsMs int64   `json:"ts_ms"`
}

type HumidityValue struct {
	RH   float64 `json:"rh"` // 0..100 %
	TsMs int64   `json:"ts_ms"`
}

type AltitudeValue struct {
	M           float64 `json:"m"`
	SeaLevelHPa float64 `json:"sea_level_hpa"`
	TsMs        int64   `json:"ts_ms"`
}
