// services/hal/internal/util/util.go
package util

import (
	"encoding/json"
	"time"

	"sensorcode-go/x/mathx"
)

func ResetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		DrainTimer(t)
	}
	t.Reset(d)
}

func DrainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// DecodeJSON decodes raw JSON ([]byte or string) or re-encodes an already
// decoded value (e.g. map[string]any) into dst.
func DecodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	case json.RawMessage:
		return json.Unmarshal(v, dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

// ClampDuration limits d to [lo, hi].
func ClampDuration(d, lo, hi time.Duration) time.Duration {
	return mathx.Clamp(d, lo, hi)
}
