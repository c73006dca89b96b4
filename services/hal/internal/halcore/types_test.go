// services/hal/internal/halcore/types_test.go

package halcore

import (
	"testing"

	"sensorcode-go/drivers/regio/regiotest"
)

func TestI2CBusMap(t *testing.T) {
	m := I2CBusMap{"i2c1": regiotest.New(0x77)}
	if b, ok := m.ByID("i2c1"); !ok || b == nil {
		t.Fatal("i2c1 not found")
	}
	if _, ok := m.ByID("i2c0"); ok {
		t.Fatal("unexpected i2c0")
	}
}
