package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"breaker-monitor/internal/model"
	"breaker-monitor/internal/normalizer"
	"breaker-monitor/internal/tuya"
)

// DeviceAPI is the part of the cloud client the poller needs.
type DeviceAPI interface {
	DeviceOnline(ctx context.Context, deviceID string) (bool, error)
	DeviceStatus(ctx context.Context, deviceID string) ([]model.RawPoint, error)
}

// Poller polls one device and feeds push messages through the same normalizer.
type Poller struct {
	API        DeviceAPI
	Normalizer *normalizer.Normalizer
	DeviceID   string
	Interval   time.Duration
	Sink       Sink
	Observer   Observer
	Log        *logrus.Entry
	Now        func() time.Time

	once    sync.Once
	mu      sync.Mutex
	offline bool
}

func (p *Poller) defaults() {
	p.once.Do(p.setDefaults)
}

func (p *Poller) setDefaults() {
	if p.Observer == nil {
		p.Observer = nopObserver{}
	}
	if p.Log == nil {
		p.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Normalizer == nil {
		p.Normalizer = normalizer.New(nil)
	}
}

// Run polls immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.defaults()
	interval := p.Interval
	if interval <= 0 {
		return fmt.Errorf("poller %s: interval must be positive", p.DeviceID)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := p.PollOnce(ctx); err != nil {
		p.Log.WithError(err).Warn("initial poll failed")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.Log.WithError(err).Warn("poll failed")
			}
		}
	}
}

// PollOnce fetches the online flag and, for an online device, its status.
// An offline device yields the offline snapshot. API failures produce no
// snapshot and leave the cache untouched.
func (p *Poller) PollOnce(ctx context.Context) (model.Snapshot, error) {
	p.defaults()
	online, err := p.API.DeviceOnline(ctx, p.DeviceID)
	if err != nil && !tuya.IsDeviceOffline(err) {
		p.Observer.ObservePollError(err)
		return model.Snapshot{}, fmt.Errorf("device info: %w", err)
	}
	now := p.Now()

	if !online {
		p.transition(true)
		snap, recs := p.Normalizer.OfflineSnapshot(p.DeviceID, now)
		p.deliver(ctx, "poll", snap, recs)
		return snap, nil
	}

	points, err := p.API.DeviceStatus(ctx, p.DeviceID)
	if err != nil {
		if tuya.IsDeviceOffline(err) {
			p.transition(true)
			snap, recs := p.Normalizer.OfflineSnapshot(p.DeviceID, now)
			p.deliver(ctx, "poll", snap, recs)
			return snap, nil
		}
		p.Observer.ObservePollError(err)
		return model.Snapshot{}, fmt.Errorf("device status: %w", err)
	}
	p.transition(false)
	snap, recs := p.Normalizer.DecodeBatch(p.DeviceID, points, now)
	p.deliver(ctx, "poll", snap, recs)
	return snap, nil
}

func (p *Poller) transition(offline bool) {
	p.mu.Lock()
	changed := p.offline != offline
	p.offline = offline
	p.mu.Unlock()
	if !changed {
		return
	}
	if offline {
		p.Log.WithField("device", p.DeviceID).Warn("device is offline, publishing offline snapshot")
	} else {
		p.Log.WithField("device", p.DeviceID).Info("device is back online")
	}
}

func (p *Poller) deliver(ctx context.Context, source string, snap model.Snapshot, recs []model.Record) {
	p.Observer.ObserveUpdate(source, snap, recs)
	for _, r := range recs {
		if r.Diagnostic != nil {
			p.Log.WithField("code", r.Code).Debug(r.Diagnostic.Error())
		}
	}
	if p.Sink == nil {
		return
	}
	if err := p.Sink.Publish(ctx, snap, recs); err != nil && !errors.Is(err, context.Canceled) {
		p.Log.WithError(err).Debug("publish completed with errors")
	}
}
