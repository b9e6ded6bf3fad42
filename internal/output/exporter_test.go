package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breaker-monitor/internal/db"
)

func sampleRows() []db.Row {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []db.Row{
		{ID: 2, Timestamp: ts, DeviceID: "d", Code: "output_voltage", Name: "Voltage", Value: 231.5, Display: "231.5", Unit: "V", Kind: "Integer"},
		{ID: 1, Timestamp: ts, DeviceID: "d", Code: "switch", Name: "Breaker Switch", Value: "ON", Display: "ON", Kind: "Boolean"},
		{ID: 3, Timestamp: ts, DeviceID: "d", Code: "fault", Value: nil, Kind: "Bitmap", Diagnostic: "malformed bitmap"},
	}
}

func TestEncodeCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, sampleRows()))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, CSVHeaders, recs[0])
	assert.Equal(t, []string{"2", "2024-03-01 10:00:00", "d", "output_voltage", "Voltage", "231.5", "231.5", "V", "Integer", ""}, recs[1])
	assert.Equal(t, "ON", recs[2][5])
	assert.Equal(t, "", recs[3][5])
	assert.Equal(t, "malformed bitmap", recs[3][9])
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.json")
	csvPath := filepath.Join(dir, "out.csv")

	require.NoError(t, WriteJSON(jsonPath, sampleRows()))
	require.NoError(t, WriteCSV(csvPath, sampleRows()))

	b, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "output_voltage", decoded[0]["dp_code"])
	assert.Equal(t, 231.5, decoded[0]["dp_value"])

	_, err = os.Stat(csvPath)
	assert.NoError(t, err)
}

func TestWriteJSONBadPath(t *testing.T) {
	err := WriteJSON(filepath.Join(t.TempDir(), "missing", "out.json"), nil)
	assert.ErrorContains(t, err, "create")
}
