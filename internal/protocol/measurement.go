package protocol

import (
	"math"
	"strconv"
	"strings"
)

const (
	measurementPrefix    = "Measured:"
	measurementSeparator = ", "

	batteryKey       = "volt/batt"
	batteryKeyRename = "volt"

	// distanceScale converts the reported metres to millimetres.
	distanceScale = 1000

	// Field positions in a measurement frame.
	distanceField  = 0
	amplitudeField = 1
	occupiedField  = 2
)

// Field is one "key: value" pair of a measurement frame.
// Name is title-cased and Value is trimmed.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// IsMeasurement reports whether s is a periodic measurement frame.
func IsMeasurement(s string) bool {
	return strings.HasPrefix(s, measurementPrefix)
}

// ParseMeasurement returns one Field per comma separated pair of a
// measurement frame, in frame order.
//
//	Measured: dist: 1.25, ampl: 42, volt/batt: 3.70v (2)
//	→ [{Dist 1.25} {Ampl 42} {Volt 3.70v (2)}]
//
// It returns nil when s is not a measurement frame.
func ParseMeasurement(s string) []Field {
	if !IsMeasurement(s) {
		return nil
	}
	body := strings.TrimLeft(s[len(measurementPrefix):], " ")
	if body == "" {
		return []Field{}
	}

	pairs := strings.Split(body, measurementSeparator)
	fields := make([]Field, 0, len(pairs))
	for _, pair := range pairs {
		parts := strings.Split(pair, ":")
		key := strings.TrimSpace(parts[0])
		if key == batteryKey {
			key = batteryKeyRename
		}
		value := ""
		if len(parts) > 1 {
			value = strings.TrimSpace(parts[1])
		}
		fields = append(fields, Field{Name: titleCase(key), Value: value})
	}
	return fields
}

// Distance returns the first measurement field scaled from metres to
// millimetres, e.g. "1.25" → "1250". It returns "" when s is not a
// measurement frame or the value is not numeric.
func Distance(s string) string {
	raw := fieldValue(s, distanceField)
	if raw == "" {
		return ""
	}
	metres, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return ""
	}
	// Round to micrometres to drop binary float noise such as 1129.9999999.
	mm := math.Round(metres*distanceScale*1000) / 1000
	return strconv.FormatFloat(mm, 'f', -1, 64)
}

// Amplitude returns the second measurement field value.
func Amplitude(s string) string {
	return fieldValue(s, amplitudeField)
}

// Occupied returns the third measurement field value.
func Occupied(s string) string {
	return fieldValue(s, occupiedField)
}

// NumericFields returns the measurement fields that parse as numbers, keyed by
// lower-cased name. A trailing unit suffix such as "v" in "3.70v (2)" is
// ignored. Distance is reported in millimetres.
func NumericFields(s string) map[string]float64 {
	fields := ParseMeasurement(s)
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]float64, len(fields))
	for i, f := range fields {
		if i == distanceField {
			if mm, err := strconv.ParseFloat(Distance(s), 64); err == nil {
				out[strings.ToLower(f.Name)] = mm
			}
			continue
		}
		if v, ok := leadingNumber(f.Value); ok {
			out[strings.ToLower(f.Name)] = v
		}
	}
	return out
}

func fieldValue(s string, index int) string {
	fields := ParseMeasurement(s)
	if index >= len(fields) {
		return ""
	}
	return fields[index].Value
}

func titleCase(key string) string {
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

// leadingNumber parses the longest numeric prefix of v.
func leadingNumber(v string) (float64, bool) {
	end := 0
	for end < len(v) {
		c := v[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(v[:end], 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
