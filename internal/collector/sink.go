package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"breaker-monitor/internal/model"
)

// Sink receives every snapshot and its records.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap model.Snapshot, recs []model.Record) error
}

// Observer is notified of collection outcomes. Implemented by metrics.
type Observer interface {
	ObserveUpdate(source string, snap model.Snapshot, recs []model.Record)
	ObservePollError(err error)
	ObserveSinkError(sink string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveUpdate(string, model.Snapshot, []model.Record) {}

func (nopObserver) ObservePollError(error) {}

func (nopObserver) ObserveSinkError(string, error) {}

// Fanout delivers to every sink in order. A failing sink is logged and
// counted; the others still receive the snapshot.
type Fanout struct {
	Sinks    []Sink
	Log      *logrus.Entry
	Observer Observer
}

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Publish(ctx context.Context, snap model.Snapshot, recs []model.Record) error {
	var errs []error
	for _, s := range f.Sinks {
		if err := s.Publish(ctx, snap, recs); err != nil {
			if f.Log != nil {
				f.Log.WithError(err).WithField("sink", s.Name()).Error("sink publish failed")
			}
			if f.Observer != nil {
				f.Observer.ObserveSinkError(s.Name(), err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Latest keeps the most recent snapshot for readers such as the HTTP API.
type Latest struct {
	mu   sync.RWMutex
	snap model.Snapshot
	recs []model.Record
	ok   bool
}

func (l *Latest) Name() string { return "latest" }

func (l *Latest) Publish(_ context.Context, snap model.Snapshot, recs []model.Record) error {
	cp := make([]model.Record, len(recs))
	copy(cp, recs)
	l.mu.Lock()
	l.snap, l.recs, l.ok = snap, cp, true
	l.mu.Unlock()
	return nil
}

// Get returns the latest snapshot; ok is false before the first update.
func (l *Latest) Get() (model.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.ok
}

// Records returns the records of the latest update.
func (l *Latest) Records() []model.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Record, len(l.recs))
	copy(out, l.recs)
	return out
}

// Console prints the snapshot lines through the logger.
type Console struct {
	Log *logrus.Entry
}

func (c Console) Name() string { return "console" }

func (c Console) Publish(_ context.Context, snap model.Snapshot, _ []model.Record) error {
	entry := c.Log.WithField("device", snap.DeviceID)
	for _, line := range snap.Lines() {
		entry.Info(line)
	}
	return nil
}
