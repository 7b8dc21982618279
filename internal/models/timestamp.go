package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp decodes the timestamp formats the backend emits: RFC3339 with or
// without zone, a space separated datetime, or unix seconds.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] != '"' {
		var unix float64
		if err := json.Unmarshal(data, &unix); err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		sec := int64(unix)
		t.Time = time.Unix(sec, int64((unix-float64(sec))*1e9))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp parses s with the known layouts. Values without a zone are
// interpreted in local time, the way the dashboard displays them.
func ParseTimestamp(s string) (time.Time, error) {
	for i, layout := range timestampLayouts {
		var (
			parsed time.Time
			err    error
		)
		if i == 0 {
			parsed, err = time.Parse(layout, s)
		} else {
			parsed, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
