// Package sheet appends snapshots to an xlsx workbook: every raw batch to a
// log sheet and the tracked fields to one sheet per local day.
package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"breaker-monitor/internal/model"
)

const (
	RawLogSheet = "All Raw Data Log"
	// DayLayout names daily sheets. Sheet names may not contain '/'.
	DayLayout = "02-01-2006"
)

var (
	RawLogHeaders = []any{"Timestamp", "Device ID", "DP Code", "DP Name", "DP Value", "DP Unit", "DP Type"}
	DailyHeaders  = []any{"Time", "Breaker Switch", "Voltage (V)", "Frequency (Hz)", "Current (A)", "Active Power (kW)", "Power Factor"}

	ErrQueueFull = errors.New("workbook queue full")
	ErrClosed    = errors.New("workbook closed")
)

// Workbook is a Sink writing through a bounded queue and a single writer goroutine.
type Workbook struct {
	path string
	loc  *time.Location
	log  *logrus.Entry

	q      chan model.Snapshot
	done   chan struct{}
	sendMu sync.RWMutex
	closed bool

	mu   sync.Mutex // guards f and next
	f    *excelize.File
	next map[string]int
}

// Options tunes the workbook.
type Options struct {
	Location  *time.Location
	QueueSize int
	Log       *logrus.Entry
}

// Open loads path or creates a new workbook, ensures the raw log sheet and
// starts the writer.
func Open(path string, opts Options) (*Workbook, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		opts.Log = logrus.NewEntry(l)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	f, fresh, err := load(path)
	if err != nil {
		return nil, err
	}
	w := &Workbook{
		path: path,
		loc:  opts.Location,
		log:  opts.Log,
		q:    make(chan model.Snapshot, opts.QueueSize),
		done: make(chan struct{}),
		f:    f,
		next: make(map[string]int),
	}
	if fresh {
		if err := f.SetSheetName("Sheet1", RawLogSheet); err != nil {
			return nil, fmt.Errorf("rename default sheet: %w", err)
		}
		if err := w.writeRow(RawLogSheet, RawLogHeaders); err != nil {
			return nil, err
		}
	} else if err := w.ensureSheet(RawLogSheet, RawLogHeaders); err != nil {
		return nil, err
	}
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("save workbook: %w", err)
	}

	go w.run()
	return w, nil
}

func load(path string) (*excelize.File, bool, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("open workbook %s: %w", path, err)
		}
		return f, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	return excelize.NewFile(), true, nil
}

// Name identifies the sink in logs and metrics.
func (w *Workbook) Name() string { return "workbook" }

// Publish queues the snapshot. It never blocks; a full queue is an error.
func (w *Workbook) Publish(_ context.Context, snap model.Snapshot, _ []model.Record) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.q <- snap:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains the queue, saves and closes the file.
func (w *Workbook) Close() error {
	w.sendMu.Lock()
	if w.closed {
		w.sendMu.Unlock()
		return nil
	}
	w.closed = true
	close(w.q)
	w.sendMu.Unlock()

	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func (w *Workbook) run() {
	defer close(w.done)
	for snap := range w.q {
		if err := w.append(snap); err != nil {
			w.log.WithError(err).Error("workbook append failed")
		}
	}
}

func (w *Workbook) append(snap model.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	raw, err := json.Marshal(snap.RawPoints)
	if err != nil {
		return fmt.Errorf("encode raw points: %w", err)
	}
	local := snap.Timestamp.In(w.loc)
	na := model.NotAvailable
	if err := w.writeRow(RawLogSheet, []any{
		local.Format(model.TimestampLayout), snap.DeviceID, string(raw), na, na, na, na,
	}); err != nil {
		return err
	}

	day := local.Format(DayLayout)
	if err := w.ensureSheet(day, DailyHeaders); err != nil {
		return err
	}
	sw := snap.Switch
	if sw == "" {
		sw = na
	}
	if err := w.writeRow(day, []any{
		local.Format(model.ClockLayout), sw,
		snap.Voltage.Cell(), snap.Frequency.Cell(), snap.Current.Cell(),
		snap.ActivePower.Cell(), snap.PowerFactor.Cell(),
	}); err != nil {
		return err
	}
	if err := w.f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// ensureSheet creates sheet with headers when missing. Caller holds mu.
func (w *Workbook) ensureSheet(sheet string, headers []any) error {
	idx, err := w.f.GetSheetIndex(sheet)
	if err != nil {
		return err
	}
	if idx == -1 {
		if _, err := w.f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		w.next[sheet] = 1
		return w.writeRow(sheet, headers)
	}
	return nil
}

// writeRow appends values below the last used row. Caller holds mu.
func (w *Workbook) writeRow(sheet string, values []any) error {
	row, ok := w.next[sheet]
	if !ok {
		rows, err := w.f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		row = len(rows) + 1
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	w.next[sheet] = row + 1
	return nil
}

// DailyRows returns the data rows (without header) of the sheet for day.
func (w *Workbook) DailyRows(day time.Time) ([][]string, error) {
	return w.rows(day.In(w.loc).Format(DayLayout))
}

// RawRows returns the data rows of the raw log sheet.
func (w *Workbook) RawRows() ([][]string, error) {
	return w.rows(RawLogSheet)
}

func (w *Workbook) rows(sheet string) ([][]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx, err := w.f.GetSheetIndex(sheet)
	if err != nil {
		return nil, err
	}
	if idx == -1 {
		return nil, nil
	}
	rows, err := w.f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return [][]string{}, nil
	}
	return rows[1:], nil
}
