package heartbeat

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"sensorcode-go/bus"
	"sensorcode-go/types"
)

type syncBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (w *syncBuf) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func (w *syncBuf) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.String()
}

func waitLog(t *testing.T, w *syncBuf, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("log never contained %q:\n%s", want, w.String())
}

func TestHeartbeatLogsTransitionsAndBeats(t *testing.T) {
	out := &syncBuf{}
	logger := slog.New(slog.NewTextHandler(out, nil))

	b := bus.NewBus(16)
	conn := b.NewConnection("heartbeat_test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := New(logger).WithInterval(time.Hour).Start(ctx, conn); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "pressure", 0, "state"),
		types.CapabilityState{Link: types.LinkDegraded, Error: "unavailable"}, true))
	waitLog(t, out, `msg="capability degraded" service=heartbeat cap=pressure/0 error=unavailable`)

	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "pressure", 0, "value"), types.PressureValue{Pa: 1}, false))
	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "pressure", 0, "state"),
		types.CapabilityState{Link: types.LinkUp}, true))
	waitLog(t, out, "capability up")

	// Shrinking the interval makes the next beat come quickly.
	conn.Publish(conn.NewMessage(topicConfigHeartbeat, map[string]any{"interval": 0.02}, false))
	waitLog(t, out, "heartbeat values=1 caps_up=1 caps_down=0")
}

func TestIntervalOf(t *testing.T) {
	if d, ok := intervalOf(map[string]any{"interval": 2.5}); !ok || d != 2500*time.Millisecond {
		t.Fatalf("got %v %v", d, ok)
	}
	for _, p := range []any{nil, "5", map[string]any{"interval": -1.0}, map[string]any{}} {
		if _, ok := intervalOf(p); ok {
			t.Fatalf("%v accepted", p)
		}
	}
}
