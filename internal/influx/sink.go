// Package influx mirrors snapshots into an InfluxDB v2 bucket.
package influx

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"breaker-monitor/internal/model"
)

const Measurement = "breaker"

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink writes one point per snapshot with a blocking write.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
}

// New connects to url with token and writes into org/bucket.
func New(url, token, org, bucket string) *Sink {
	client := influxdb2.NewClient(url, token)
	return &Sink{client: client, writer: client.WriteAPIBlocking(org, bucket)}
}

func (s *Sink) Name() string { return "influx" }

func (s *Sink) Publish(ctx context.Context, snap model.Snapshot, _ []model.Record) error {
	if err := s.writer.WritePoint(ctx, Point(snap)); err != nil {
		return errors.Wrap(err, "influx write")
	}
	return nil
}

func (s *Sink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// Point converts a snapshot. Only observed readings become fields.
func Point(snap model.Snapshot) *write.Point {
	fields := map[string]interface{}{
		"switch_on": snap.Switch == model.SwitchOn,
		"online":    !snap.Offline,
	}
	for name, r := range map[string]model.Reading{
		"voltage":      snap.Voltage,
		"frequency":    snap.Frequency,
		"current":      snap.Current,
		"active_power": snap.ActivePower,
		"power_factor": snap.PowerFactor,
	} {
		if r.Valid {
			fields[name] = r.Value
		}
	}
	return influxdb2.NewPoint(Measurement, map[string]string{"device": snap.DeviceID}, fields, snap.Timestamp)
}
