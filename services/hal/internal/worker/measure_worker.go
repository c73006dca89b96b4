// services/hal/internal/worker/measure_worker.go
package worker

import (
	"context"
	"errors"
	"time"

	"sensorcode-go/services/hal/internal/halcore"
	"sensorcode-go/services/hal/internal/util"
)

// MeasureWorker owns one I2C bus. Every Trigger and Collect for adaptors on
// that bus runs on the worker goroutine, so their transactions never overlap.
type MeasureWorker struct {
	cfg  halcore.WorkerConfig
	reqQ chan halcore.MeasureReq
	sink chan<- halcore.Result // fan-in sink owned by service

	pending  map[string]*collectItem
	want     map[string]bool
	collects []*collectItem
	timer    *time.Timer
}

type collectItem struct {
	id      string
	adaptor halcore.Adaptor
	due     time.Time
	retries int
}

func New(cfg halcore.WorkerConfig, sink chan<- halcore.Result) *MeasureWorker {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 100 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		// Covers the longest TCS34725 integration (700 ms).
		cfg.CollectTimeout = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 16
	}
	return &MeasureWorker{
		cfg:     cfg,
		reqQ:    make(chan halcore.MeasureReq, cfg.InputQueueSize),
		sink:    sink,
		pending: map[string]*collectItem{},
		want:    map[string]bool{},
		timer:   time.NewTimer(time.Hour),
	}
}

// Submit queues a measurement without blocking. Priority requests wait
// briefly for queue space.
func (w *MeasureWorker) Submit(req halcore.MeasureReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
		if req.Prio {
			select {
			case w.reqQ <- req:
				return true
			case <-time.After(5 * time.Millisecond):
			}
		}
		return false
	}
}

func (w *MeasureWorker) Start(ctx context.Context) {
	if !w.timer.Stop() {
		util.DrainTimer(w.timer)
	}
	go w.loop(ctx)
}

func (w *MeasureWorker) loop(ctx context.Context) {
	for {
		if next := w.minDue(); next.IsZero() {
			util.ResetTimer(w.timer, time.Hour)
		} else {
			util.ResetTimer(w.timer, time.Until(next))
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqQ:
			if _, ok := w.pending[req.ID]; ok {
				if req.Prio {
					w.want[req.ID] = true
				}
				continue
			}
			w.trigger(ctx, &collectItem{id: req.ID, adaptor: req.Adaptor})
		case <-w.timer.C:
			w.collectDue(ctx)
		}
	}
}

// trigger starts a measurement and schedules its collect.
func (w *MeasureWorker) trigger(ctx context.Context, it *collectItem) {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.TriggerTimeout)
	after, err := it.adaptor.Trigger(tctx)
	cancel()
	if err != nil {
		w.emit(ctx, halcore.Result{ID: it.id, Err: err})
		return
	}
	it.retries = 0
	it.due = time.Now().Add(after)
	w.pending[it.id] = it
	w.collects = append(w.collects, it)
}

func (w *MeasureWorker) collectDue(ctx context.Context) {
	now := time.Now()
	due := w.collects
	w.collects = nil
	var again []*collectItem
	for _, it := range due {
		if now.Before(it.due) {
			w.collects = append(w.collects, it)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, w.cfg.CollectTimeout)
		s, err := it.adaptor.Collect(cctx)
		cancel()
		switch {
		case err == nil:
			delete(w.pending, it.id)
			w.emit(ctx, halcore.Result{ID: it.id, Sample: s})
		case errors.Is(err, halcore.ErrNotReady) && it.retries < w.cfg.MaxRetries:
			it.retries++
			it.due = now.Add(w.cfg.RetryBackoff)
			w.collects = append(w.collects, it)
			continue
		default:
			delete(w.pending, it.id)
			w.emit(ctx, halcore.Result{ID: it.id, Err: err})
		}
		// A read_now that arrived while this item was in flight gets a fresh cycle.
		if w.want[it.id] {
			delete(w.want, it.id)
			again = append(again, it)
		}
	}
	for _, it := range again {
		w.trigger(ctx, it)
	}
}

func (w *MeasureWorker) emit(ctx context.Context, r halcore.Result) {
	select {
	case w.sink <- r:
	case <-ctx.Done():
	}
}

func (w *MeasureWorker) minDue() time.Time {
	var min time.Time
	for _, it := range w.collects {
		if min.IsZero() || it.due.Before(min) {
			min = it.due
		}
	}
	return min
}
