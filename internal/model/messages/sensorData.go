package messages

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when a payload lacks the fields a feed expects.
var ErrMalformed = errors.New("malformed sensor payload")

// NumericPayload is what temperature, soil moisture and humidity publish:
// {"value": 21.5, "timestamp": 1718000000000}. Timestamp is Unix milliseconds.
type NumericPayload struct {
	Value     *float64 `json:"value"`
	Timestamp *int64   `json:"timestamp,omitempty"`
}

// PresencePayload is what the presence sensor publishes:
// {"status": true, "timestamp": 1718000000000}.
type PresencePayload struct {
	Status    *bool  `json:"status"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// UnmarshalJSON accepts numbers or numeric strings for value and timestamp.
func (p *NumericPayload) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if v, ok := asFloat(m["value"]); ok {
		p.Value = &v
	}
	p.Timestamp = asMillis(m["timestamp"])
	return nil
}

// UnmarshalJSON accepts booleans or 0/1 for status.
func (p *PresencePayload) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	switch x := m["status"].(type) {
	case bool:
		p.Status = &x
	case float64:
		if x == 0 || x == 1 {
			st := x == 1
			p.Status = &st
		}
	case string:
		if st, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			p.Status = &st
		}
	}
	p.Timestamp = asMillis(m["timestamp"])
	return nil
}

// Time converts the payload timestamp, falling back to def when absent.
func (p NumericPayload) Time(def time.Time) time.Time { return millisOr(p.Timestamp, def) }

// Time converts the payload timestamp, falling back to def when absent.
func (p PresencePayload) Time(def time.Time) time.Time { return millisOr(p.Timestamp, def) }

func millisOr(ms *int64, def time.Time) time.Time {
	if ms == nil {
		return def
	}
	return time.UnixMilli(*ms).UTC()
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asMillis(v any) *int64 {
	switch x := v.(type) {
	case float64:
		ms := int64(x)
		return &ms
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &n
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ms := t.UnixMilli()
			return &ms
		}
	}
	return nil
}
