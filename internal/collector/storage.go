package collector

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"breaker-monitor/internal/datapoint"
	"breaker-monitor/internal/model"
)

var ErrJournalFull = errors.New("journal queue full")

// Journal appends normalized records to JSONL and/or CSV files asynchronously.
type Journal struct {
	dir        string
	log        *logrus.Entry
	q          chan []model.Record
	enableJSON bool
	enableCSV  bool

	jsonFile   *os.File
	jsonWriter *bufio.Writer

	csvFile   *os.File
	csvWriter *csv.Writer

	sendMu sync.RWMutex
	closed bool
	done   chan struct{}
}

var journalHeader = []string{"timestamp", "device_id", "dp_code", "dp_name", "dp_value", "dp_display", "dp_unit", "dp_type", "dp_diagnostic"}

// NewJournal ensures dir exists, opens the requested files and starts the writer.
// fileType is json, csv or both. Write failures are logged to log.
func NewJournal(dir, fileType string, maxQueue int, log *logrus.Entry) (*Journal, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	ft := strings.ToLower(strings.TrimSpace(fileType))
	j := &Journal{
		dir:  dir,
		log:  log,
		q:    make(chan []model.Record, maxQueueIfPositive(maxQueue, 256)),
		done: make(chan struct{}),
	}
	switch ft {
	case "json", "jsonl":
		j.enableJSON = true
	case "csv":
		j.enableCSV = true
	case "both", "":
		j.enableJSON = true
		j.enableCSV = true
	default:
		return nil, fmt.Errorf("unsupported journal format %q", fileType)
	}

	if j.enableJSON {
		jf, err := os.OpenFile(filepath.Join(dir, "records.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json journal: %w", err)
		}
		j.jsonFile = jf
		j.jsonWriter = bufio.NewWriterSize(jf, 64*1024)
	}

	if j.enableCSV {
		cf, err := os.OpenFile(filepath.Join(dir, "records.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			j.closeFiles()
			return nil, fmt.Errorf("open csv journal: %w", err)
		}
		j.csvFile = cf
		j.csvWriter = csv.NewWriter(cf)
		if off, _ := cf.Seek(0, io.SeekEnd); off == 0 {
			if err := j.csvWriter.Write(journalHeader); err != nil {
				j.closeFiles()
				return nil, fmt.Errorf("write csv header: %w", err)
			}
			j.csvWriter.Flush()
			if err := j.csvWriter.Error(); err != nil {
				j.closeFiles()
				return nil, err
			}
		}
	}

	go j.run()
	return j, nil
}

func (j *Journal) run() {
	defer close(j.done)
	for recs := range j.q {
		for _, r := range recs {
			if j.enableJSON {
				if err := j.writeJSONL(r); err != nil {
					j.log.WithError(err).WithField("dp_code", r.Code).Error("journal json write failed")
				}
			}
			if j.enableCSV {
				if err := j.writeCSV(r); err != nil {
					j.log.WithError(err).WithField("dp_code", r.Code).Error("journal csv write failed")
				}
			}
		}
		// flush per batch
		if j.jsonWriter != nil {
			if err := j.jsonWriter.Flush(); err != nil {
				j.log.WithError(err).Error("journal json flush failed")
			}
		}
		if j.csvWriter != nil {
			j.csvWriter.Flush()
			if err := j.csvWriter.Error(); err != nil {
				j.log.WithError(err).Error("journal csv flush failed")
			}
		}
	}
}

func maxQueueIfPositive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (j *Journal) Name() string { return "journal" }

// Publish queues the records of a snapshot without blocking.
func (j *Journal) Publish(_ context.Context, _ model.Snapshot, recs []model.Record) error {
	if len(recs) == 0 {
		return nil
	}
	j.sendMu.RLock()
	defer j.sendMu.RUnlock()
	if j.closed {
		return errors.New("journal closed")
	}
	select {
	case j.q <- recs:
		return nil
	default:
		return ErrJournalFull
	}
}

// Close drains the queue and closes the files.
func (j *Journal) Close() error {
	j.sendMu.Lock()
	if j.closed {
		j.sendMu.Unlock()
		return nil
	}
	j.closed = true
	close(j.q)
	j.sendMu.Unlock()

	<-j.done
	j.closeFiles()
	return nil
}

func (j *Journal) closeFiles() {
	if j.jsonFile != nil {
		j.jsonFile.Close()
	}
	if j.csvFile != nil {
		j.csvFile.Close()
	}
}

func (j *Journal) writeJSONL(r model.Record) error {
	obj := map[string]any{
		"timestamp":     r.Timestamp.Format(time.RFC3339),
		"device_id":     r.DeviceID,
		"dp_code":       r.Code,
		"dp_name":       r.Name,
		"dp_value":      r.Stored,
		"dp_display":    r.Display,
		"dp_unit":       r.Unit,
		"dp_type":       r.Kind.String(),
		"dp_diagnostic": r.DiagnosticText(),
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if _, err := j.jsonWriter.Write(b); err != nil {
		return err
	}
	_, err = j.jsonWriter.WriteString("\n")
	return err
}

func (j *Journal) writeCSV(r model.Record) error {
	return j.csvWriter.Write([]string{
		r.Timestamp.Format(time.RFC3339),
		r.DeviceID,
		r.Code,
		r.Name,
		datapoint.FormatValue(r.Stored),
		r.Display,
		r.Unit,
		r.Kind.String(),
		r.DiagnosticText(),
	})
}
