package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestCreateLogger(t *testing.T) {
	level := "debug"
	log := NewLogrus(level, os.Stdout)

	assert.Equal(t, log.level, level)
	assert.Equal(t, logrus.DebugLevel, log.Level())
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	log := NewLogrus("chatty", nil)

	assert.Equal(t, logrus.InfoLevel, log.Level())
	assert.Equal(t, os.Stderr, log.Get("x").Logger.Out)
}

func TestGetLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogrus("info", &buf)

	logger := log.Get("Poller")
	logger.Info("device online")
	logger.Debug("hidden")

	assert.Equal(t, &buf, logger.Logger.Out)
	assert.Contains(t, buf.String(), "Context=Poller")
	assert.Contains(t, buf.String(), "device online")
	assert.NotContains(t, buf.String(), "hidden")
}
