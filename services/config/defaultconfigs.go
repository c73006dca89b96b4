package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that board
// -----------------------------------------------------------------------------

// Raspberry Pi with a BME280 and a TCS34725 on /dev/i2c-1.
const cfgRPi = `{
  "hal": {
    "devices": [
      {"id": "env0", "type": "bme280", "bus_ref": {"type": "i2c", "id": "i2c1"},
       "params": {"addr": 118, "period_ms": 2000, "filter": 4}},
      {"id": "light0", "type": "tcs34725", "bus_ref": {"type": "i2c", "id": "i2c1"},
       "params": {"gain": 4, "integration_ms": 154, "period_ms": 2000}}
    ]
  },
  "bridge": {
    "transport": {"type": "mqtt", "mqtt": {"broker": "localhost", "port": 1883, "client_id": "sensord"}},
    "prefix": "sensorcode"
  }
}`

// Weather station: BMP280 only.
const cfgBMP = `{
  "hal": {
    "devices": [
      {"id": "baro0", "type": "bmp280", "bus_ref": {"type": "i2c", "id": "i2c1"},
       "params": {"addr": 119, "period_ms": 10000, "temp_path": "float"}}
    ]
  }
}`

var embeddedConfigs = map[string][]byte{
	"rpi":     []byte(cfgRPi),
	"rpi-bmp": []byte(cfgBMP),
}
