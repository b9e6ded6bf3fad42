package datapoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnknownName is the display name given to codes missing from the catalog.
const UnknownName = "Unknown DP"

// NoActiveFaults is the decoded text of an all-zero bitmap.
const NoActiveFaults = "No active faults"

var (
	ErrUnknownDataPoint = errors.New("unknown data point")
	ErrMalformedBitmap  = errors.New("malformed bitmap value")
	ErrMalformedNumber  = errors.New("malformed numeric value")
)

// Result is the decoded form of one raw value.
// Stored is float64 for Integer, "ON"/"OFF" for Boolean, string for Bitmap and
// String, and the raw value itself for Raw and Unknown points.
// Diagnostic is nil when the value decoded cleanly.
type Result struct {
	Display    string
	Stored     any
	Diagnostic error
}

// Degraded reports whether the value could not be decoded as its spec says.
func (r Result) Degraded() bool { return r.Diagnostic != nil }

// Decode converts raw according to the spec. It never fails: anomalies are
// reported through Result.Diagnostic with a best-effort value.
func (s Spec) Decode(raw any) Result {
	switch s.Kind {
	case KindInteger:
		f, ok := toFloat(raw)
		if !ok {
			return Result{
				Display:    FormatValue(raw),
				Stored:     raw,
				Diagnostic: fmt.Errorf("%w: %s=%v", ErrMalformedNumber, s.Code, raw),
			}
		}
		scale := s.Scale
		if scale == 0 {
			scale = 1
		}
		v := Round3(f / scale)
		return Result{Display: strings.TrimSpace(FormatFloat(v) + " " + s.Unit), Stored: v}
	case KindBoolean:
		v := "OFF"
		if truthy(raw) {
			v = "ON"
		}
		return Result{Display: v, Stored: v}
	case KindBitmap:
		text, err := DecodeBitmap(raw, s.Labels)
		return Result{Display: text, Stored: text, Diagnostic: err}
	case KindRaw:
		return Result{Display: FormatValue(raw) + " (Raw Data)", Stored: raw}
	case KindString:
		v := FormatValue(raw)
		return Result{Display: v, Stored: v}
	default:
		v := FormatValue(raw)
		return Result{Display: v, Stored: v}
	}
}

// DecodeUnknown passes a value of an uncatalogued code through unchanged.
func DecodeUnknown(code string, raw any) Result {
	return Result{
		Display:    FormatValue(raw),
		Stored:     raw,
		Diagnostic: fmt.Errorf("%w: %s", ErrUnknownDataPoint, code),
	}
}

// DecodeBitmap lists the labels of all set bits, LSB first, joined by ", ".
// Bits beyond the label list are ignored. A non-integer value yields a
// descriptive text and ErrMalformedBitmap. Booleans count as non-integer:
// true is reported malformed, not read as bit 0, unlike decoders where a
// bool is an int.
func DecodeBitmap(raw any, labels []string) (string, error) {
	v, ok := toInt(raw)
	if !ok {
		return fmt.Sprintf("Unknown fault value type: %s", FormatValue(raw)), fmt.Errorf("%w: %v", ErrMalformedBitmap, raw)
	}
	var active []string
	for i, label := range labels {
		if i >= 64 {
			break
		}
		if (v>>uint(i))&1 == 1 {
			active = append(active, label)
		}
	}
	if len(active) == 0 {
		return NoActiveFaults, nil
	}
	return strings.Join(active, ", "), nil
}

// DiagnosticKind returns a short metric-friendly label for a decode diagnostic.
func DiagnosticKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownDataPoint):
		return "unknown_dp"
	case errors.Is(err, ErrMalformedBitmap):
		return "malformed_bitmap"
	case errors.Is(err, ErrMalformedNumber):
		return "malformed_number"
	default:
		return "other"
	}
}

// Round3 rounds half away from zero to three decimals.
func Round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// FormatFloat renders v the way the dashboard shows readings: shortest
// representation, always with a fractional part ("230.0", "0.998").
func FormatFloat(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// FormatValue renders an arbitrary raw value as text.
func FormatValue(raw any) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return FormatValue(float64(v))
	case json.Number:
		return v.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// BitmapValue returns the integer behind a raw bitmap value.
func BitmapValue(raw any) (int64, bool) { return toInt(raw) }

// toInt accepts integers and integral floats (JSON numbers decode to float64).
func toInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		return 0, false
	case float64, float32:
		f, _ := toFloat(v)
		if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	default:
		return 0, false
	}
}

func truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}
