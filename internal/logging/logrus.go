package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logrus hands out component loggers sharing one level and output.
type Logrus struct {
	level  string
	output io.Writer
	base   *logrus.Logger
}

// NewLogrus creates a logger factory. Unknown levels fall back to info and a
// nil output writes to stderr.
func NewLogrus(level string, output io.Writer) *Logrus {
	if output == nil {
		output = os.Stderr
	}
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(output)
	return &Logrus{level: level, output: output, base: log}
}

// Get returns a logger tagged with the component name.
func (l *Logrus) Get(context string) *logrus.Entry {
	return l.base.WithFields(logrus.Fields{
		"Context": context,
	})
}

// Level is the effective level.
func (l *Logrus) Level() logrus.Level {
	return l.base.GetLevel()
}
