package tasks

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breaker-monitor/internal/collector"
	"breaker-monitor/internal/config"
	"breaker-monitor/internal/db"
	"breaker-monitor/internal/model"
	"breaker-monitor/internal/modbus"
	"breaker-monitor/internal/tariff"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Device.ID = "dev-1"
	cfg.Storage.DBPath = filepath.Join(dir, "breaker.sqlite")
	cfg.Storage.Workbook = filepath.Join(dir, "breaker.xlsx")
	cfg.Storage.JournalDir = filepath.Join(dir, "journal")
	cfg.Modbus.Enabled = true
	cfg.Modbus.Listen = "127.0.0.1:0"
	cfg.HTTP.Listen = ""
	cfg.Tariff.Slabs = tariff.DefaultTable()
	return cfg
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestBuildWiresPushIntoEverySink(t *testing.T) {
	cfg := testConfig(t)
	var logs bytes.Buffer
	svc, err := Build(cfg, Options{Console: true, LogOutput: &logs})
	require.NoError(t, err)

	assert.Nil(t, svc.Cloud)
	assert.Nil(t, svc.Influx)
	require.NotNil(t, svc.Gateway)

	ctx := context.Background()
	snap, err := svc.Poller.HandlePush(ctx, collector.PushMessage{Data: &collector.PushData{
		DevID: "dev-1",
		Status: []model.RawPoint{
			{Code: "switch", Value: true},
			{Code: "output_voltage", Value: float64(2314)},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, model.SwitchOn, snap.Switch)

	latest, ok := svc.Latest.Get()
	require.True(t, ok)
	assert.Equal(t, model.Known(231.4), latest.Voltage)

	rows, err := svc.DB.History(ctx, db.Query{DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	v, err := svc.Gateway.Server().InputRegister(modbus.RegSwitch)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), v)

	svc.Close()
	assert.Contains(t, logs.String(), "Breaker Switch: ON")
	_, err = os.Stat(filepath.Join(cfg.Storage.JournalDir, "records.jsonl"))
	assert.NoError(t, err)
	_, err = os.Stat(cfg.Storage.Workbook)
	assert.NoError(t, err)
}

func TestManagerRunsAPIAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Listen = freeAddr(t)
	cfg.Storage.JournalDir = ""
	svc, err := Build(cfg, Options{LogOutput: io.Discard})
	require.NoError(t, err)
	assert.Nil(t, svc.Journal)

	m := svc.Manager()
	require.Len(t, m.Tasks, 2, "no poller without credentials")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	url := "http://" + cfg.HTTP.Listen + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(8 * time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestInitAndRunRejectsMissingConfig(t *testing.T) {
	err := InitAndRun(context.Background(), Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorContains(t, err, "load config")
}

func TestBuildFailsOnBadDBPath(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Storage.DBPath = filepath.Join(blocker, "breaker.sqlite")

	_, err := Build(cfg, Options{LogOutput: io.Discard})
	assert.Error(t, err)
}
