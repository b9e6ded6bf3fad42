package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"breaker-monitor/internal/datapoint"
	"breaker-monitor/internal/db"
	"breaker-monitor/internal/model"
)

// CSVHeaders are the columns written by WriteCSV.
var CSVHeaders = []string{"id", "timestamp", "device_id", "dp_code", "dp_name", "dp_value", "dp_display", "dp_unit", "dp_type", "dp_diagnostic"}

// WriteJSON writes rows to a JSON file with pretty formatting.
func WriteJSON(path string, rows []db.Row) error {
	return writeFile(path, func(w io.Writer) error { return EncodeJSON(w, rows) })
}

// WriteCSV writes rows to a CSV file, one row per stored data point.
func WriteCSV(path string, rows []db.Row) error {
	return writeFile(path, func(w io.Writer) error { return EncodeCSV(w, rows) })
}

func EncodeJSON(w io.Writer, rows []db.Row) error {
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func EncodeCSV(w io.Writer, rows []db.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			fmt.Sprintf("%d", r.ID),
			r.Timestamp.Format(model.TimestampLayout),
			r.DeviceID,
			r.Code,
			r.Name,
			cell(r.Value),
			r.Display,
			r.Unit,
			r.Kind,
			r.Diagnostic,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return datapoint.FormatValue(x)
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
