package collector

import (
	"context"
	"errors"

	"breaker-monitor/internal/model"
)

// ErrNoStatus marks a push message that carries no data point batch.
var ErrNoStatus = errors.New("push message has no status payload")

// PushMessage is the vendor's real-time message envelope.
type PushMessage struct {
	Protocol int       `json:"protocol"`
	Data     *PushData `json:"data"`
	T        int64     `json:"t"`
}

type PushData struct {
	DevID  string           `json:"devId"`
	Status []model.RawPoint `json:"status"`
}

// HandlePush decodes a pushed status batch through the shared normalizer and
// publishes it. Messages without a batch are logged and return ErrNoStatus.
func (p *Poller) HandlePush(ctx context.Context, msg PushMessage) (model.Snapshot, error) {
	p.defaults()
	if msg.Data == nil || len(msg.Data.Status) == 0 {
		p.Log.WithField("protocol", msg.Protocol).Info("ignoring push message without status")
		return model.Snapshot{}, ErrNoStatus
	}
	deviceID := msg.Data.DevID
	if deviceID == "" {
		deviceID = p.DeviceID
	}
	p.transition(false)
	snap, recs := p.Normalizer.DecodeBatch(deviceID, msg.Data.Status, p.Now())
	p.deliver(ctx, "push", snap, recs)
	return snap, nil
}
