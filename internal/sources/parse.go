package sources

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/varhub-io/varhub/internal/config"
)

// parsePayload decodes a payload according to the source's declared format.
func parsePayload(format string, data []byte) ([]RawRecord, []RecordError) {
	switch format {
	case config.FormatJSON:
		return parseJSONRecords(data)
	case config.FormatTSV:
		return parseTSVRecords(data)
	default:
		return nil, []RecordError{{Ordinal: 0, Err: fmt.Errorf("unsupported format: %s", format)}}
	}
}

// parseJSONRecords decodes a JSON array of objects. Elements that are not
// objects, or whose values cannot be rendered as scalars, are reported as
// record errors without aborting the rest of the array.
func parseJSONRecords(data []byte) ([]RawRecord, []RecordError) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, []RecordError{{Ordinal: 0, Err: fmt.Errorf("payload is not a JSON array: %w", err)}}
	}

	var records []RawRecord
	var errs []RecordError
	for i, raw := range elements {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			errs = append(errs, RecordError{Ordinal: i, Err: fmt.Errorf("element is not an object: %w", err)})
			continue
		}

		values := make(map[string]string, len(obj))
		for key, val := range obj {
			s, ok := scalarString(val)
			if !ok {
				// Nested structures are kept as compact JSON so a
				// normalizer profile can still dig into them.
				compact, err := json.Marshal(val)
				if err != nil {
					errs = append(errs, RecordError{Ordinal: i, Err: fmt.Errorf("field %s: %w", key, err)})
					continue
				}
				s = string(compact)
			}
			values[key] = s
		}

		records = append(records, RawRecord{Ordinal: i, Values: values})
	}

	return records, errs
}

// scalarString renders a decoded JSON scalar as a string.
func scalarString(val any) (string, bool) {
	switch v := val.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

// parseTSVRecords decodes a tab-separated payload with a header row. Rows
// with the wrong column count are reported as record errors; the rest of the
// payload still parses. Ordinals are 1-based line numbers including the
// header, matching what a reader sees in the raw file.
func parseTSVRecords(data []byte) ([]RawRecord, []RecordError) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil, []RecordError{{Ordinal: 0, Err: fmt.Errorf("payload has no header row")}}
	}
	header := strings.Split(scanner.Text(), "\t")
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "#"))
	}

	var records []RawRecord
	var errs []RecordError
	line := 1
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}

		cols := strings.Split(text, "\t")
		if len(cols) != len(header) {
			errs = append(errs, RecordError{
				Ordinal: line,
				Err:     fmt.Errorf("expected %d columns, got %d", len(header), len(cols)),
			})
			continue
		}

		values := make(map[string]string, len(header))
		for i, name := range header {
			values[name] = cols[i]
		}
		records = append(records, RawRecord{Ordinal: line, Values: values})
	}

	if err := scanner.Err(); err != nil {
		errs = append(errs, RecordError{Ordinal: line, Err: fmt.Errorf("scan failed: %w", err)})
	}

	return records, errs
}
