package tuya

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"breaker-monitor/internal/model"
)

// SwitchDPID is the data point id of the breaker relay.
const SwitchDPID = 16

var ErrSwitchNotFound = errors.New("tuya: device reports no switch data point")

// Command is one data point write.
type Command struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

type deviceInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

type statusItem struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
	DPID  int    `json:"dp_id"`
}

// DeviceOnline reports the cloud's online flag for deviceID.
func (c *Client) DeviceOnline(ctx context.Context, deviceID string) (bool, error) {
	var info deviceInfo
	if err := c.call(ctx, http.MethodGet, "/v1.0/devices/"+url.PathEscape(deviceID), nil, &info); err != nil {
		return false, err
	}
	return info.Online, nil
}

// DeviceStatus returns the current data points of deviceID.
func (c *Client) DeviceStatus(ctx context.Context, deviceID string) ([]model.RawPoint, error) {
	var items []statusItem
	if err := c.call(ctx, http.MethodGet, "/v1.0/devices/"+url.PathEscape(deviceID)+"/status", nil, &items); err != nil {
		return nil, err
	}
	out := make([]model.RawPoint, 0, len(items))
	for _, it := range items {
		out = append(out, model.RawPoint{Code: it.Code, Value: it.Value, DPID: it.DPID})
	}
	return out, nil
}

// SendCommands writes cmds to deviceID.
func (c *Client) SendCommands(ctx context.Context, deviceID string, cmds ...Command) error {
	body := map[string][]Command{"commands": cmds}
	return c.call(ctx, http.MethodPost, "/v1.0/devices/"+url.PathEscape(deviceID)+"/commands", body, nil)
}

// SetSwitch drives the breaker relay. Models differ in the relay code, so
// "switch" is tried before "switch_1".
func (c *Client) SetSwitch(ctx context.Context, deviceID string, on bool) error {
	var last error
	for _, code := range []string{"switch", "switch_1"} {
		err := c.SendCommands(ctx, deviceID, Command{Code: code, Value: on})
		if err == nil {
			return nil
		}
		c.log.WithError(err).WithField("code", code).Debug("switch command rejected")
		last = err
	}
	return errors.Wrap(last, "set switch")
}

// SwitchStatus reads the relay state from the device status.
func (c *Client) SwitchStatus(ctx context.Context, deviceID string) (bool, error) {
	points, err := c.DeviceStatus(ctx, deviceID)
	if err != nil {
		return false, err
	}
	for _, p := range points {
		if p.DPID == SwitchDPID || p.Code == "switch" || p.Code == "switch_1" {
			on, ok := p.Value.(bool)
			if !ok {
				return false, errors.Errorf("tuya: switch value %v is not a bool", p.Value)
			}
			return on, nil
		}
	}
	return false, ErrSwitchNotFound
}
