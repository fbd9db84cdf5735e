package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Fields holds structured key/value pairs
type Fields map[string]interface{}

// Entry is a single log record
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Logger    string    `json:"logger,omitempty"`
	Message   string    `json:"message"`
	Fields    Fields    `json:"fields,omitempty"`
}

// toFields converts key-value pairs to Fields. A trailing key without value is dropped.
func toFields(keysAndValues ...interface{}) Fields {
	if len(keysAndValues) < 2 {
		return nil
	}

	fields := make(Fields, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = normalize(keysAndValues[i+1])
	}
	return fields
}

// normalize makes values JSON friendly
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		if val == nil {
			return nil
		}
		return val.Error()
	case time.Duration:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func formatJSON(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func formatText(e *Entry, level Level) []byte {
	var buf bytes.Buffer
	buf.WriteString(e.Timestamp.Format(time.RFC3339))
	buf.WriteByte(' ')
	buf.WriteString(level.ShortString())
	if e.Logger != "" {
		buf.WriteString(" [")
		buf.WriteString(e.Logger)
		buf.WriteByte(']')
	}
	buf.WriteByte(' ')
	buf.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%v", k, e.Fields[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
