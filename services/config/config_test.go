// config/config_test.go
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sensorcode-go/bus"
	"sensorcode-go/types"
)

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	// Override lookup for this test.
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "pico" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"region": {"code": "eu"}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "pico")
	select {
	case err := <-svc.Start(ctx, conn):
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher did not finish")
	}

	// Subscribe; retained messages should arrive immediately.
	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})
	got := map[string]any{}
	deadline := time.After(600 * time.Millisecond)
	for len(got) < 3 {
		select {
		case m := <-sub.Channel():
			if len(m.Topic) != 2 || m.Topic[0] != configPrefix || !m.Retained {
				t.Fatalf("unexpected message: %#v", m)
			}
			key, ok := m.Topic[1].(string)
			if !ok {
				t.Fatalf("topic[1] type %T, want string", m.Topic[1])
			}
			got[key] = m.Payload
		case <-deadline:
			t.Fatalf("expected 3 retained messages, got %v", got)
		}
	}

	if got["mode"] != "dev" {
		t.Fatalf("mode payload = %#v", got["mode"])
	}
	if got["debug"] != true {
		t.Fatalf("debug payload = %#v", got["debug"])
	}
	if m, ok := got["region"].(map[string]any); !ok || m["code"] != "eu" {
		t.Fatalf("region payload = %#v", got["region"])
	}
}

func TestConfig_EmbeddedBoardsDecode(t *testing.T) {
	for board := range embeddedConfigs {
		ctx := context.WithValue(context.Background(), CtxDeviceKey, board)
		m, err := NewConfigService().Load(ctx)
		if err != nil {
			t.Fatalf("%s: %v", board, err)
		}
		hc, ok := m["hal"].(types.HALConfig)
		if !ok || len(hc.Devices) == 0 {
			t.Fatalf("%s: hal = %#v", board, m["hal"])
		}
		for _, d := range hc.Devices {
			if d.ID == "" || d.BusRef.Type != "i2c" {
				t.Fatalf("%s: device %+v", board, d)
			}
		}
	}
}

func TestConfig_FileAndOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	doc := `{"hal":{"devices":[{"id":"x","type":"tcs34725","bus_ref":{"type":"i2c","id":"i2c0"}}]},"bridge":{"prefix":"a"}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	svc := NewConfigService().FromFile(path).Override("bridge", map[string]any{"prefix": "b"})
	m, err := svc.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hc := m["hal"].(types.HALConfig); hc.Devices[0].BusRef.ID != "i2c0" {
		t.Fatalf("hal = %+v", hc)
	}
	if br := m["bridge"].(map[string]any); br["prefix"] != "b" {
		t.Fatalf("bridge = %#v", br)
	}

	if _, err := NewConfigService().FromFile(filepath.Join(t.TempDir(), "nope.json")).Load(context.Background()); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestConfig_PublishConfig_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService()

	// No device ID in context
	if err := svc.Publish(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if err := svc.Publish(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}

func TestConfig_RejectsNonObject(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(string) ([]byte, bool) { return []byte(`[1,2]`), true }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "x")
	if _, err := NewConfigService().Load(ctx); err == nil {
		t.Fatal("array config accepted")
	}
}
