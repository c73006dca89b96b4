// Package store records published capability values into sqlite.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"sensorcode-go/bus"
	"sensorcode-go/types"
)

// Options tune the recorder. Zero values disable retention pruning.
type Options struct {
	Retention     time.Duration
	PruneInterval time.Duration
}

// Run subscribes to hal/capability/+/+/value and inserts every value until
// ctx ends.
func Run(ctx context.Context, conn *bus.Connection, repo *Repository, logger *slog.Logger, opts Options) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("service", "store")

	sub := conn.Subscribe(bus.T("hal", "capability", "+", "+", "value"))
	defer conn.Unsubscribe(sub)

	var prune <-chan time.Time
	if opts.Retention > 0 {
		every := opts.PruneInterval
		if every <= 0 {
			every = time.Hour
		}
		t := time.NewTicker(every)
		defer t.Stop()
		prune = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			rec, ok := recordOf(m)
			if !ok {
				log.Debug("store skipped message", "topic", m.Topic)
				continue
			}
			if err := repo.Insert(ctx, rec); err != nil {
				log.Warn("store insert failed", "kind", rec.Kind, "id", rec.CapID, "error", err)
			}
		case now := <-prune:
			cutoff := now.Add(-opts.Retention).UnixMilli()
			n, err := repo.Prune(ctx, cutoff)
			if err != nil {
				log.Warn("store prune failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("store pruned readings", "rows", n)
			}
		}
	}
}

func recordOf(m *bus.Message) (Record, bool) {
	if len(m.Topic) != 5 || m.Payload == nil {
		return Record{}, false
	}
	kind, ok := m.Topic[2].(string)
	if !ok {
		return Record{}, false
	}
	id, ok := m.Topic[3].(int)
	if !ok {
		return Record{}, false
	}
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return Record{}, false
	}
	var stamp struct {
		TsMs int64 `json:"ts_ms"`
	}
	_ = json.Unmarshal(data, &stamp)
	if stamp.TsMs == 0 {
		stamp.TsMs = time.Now().UnixMilli()
	}
	return Record{Kind: types.Kind(kind), CapID: id, TsMs: stamp.TsMs, Payload: data}, true
}
