package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// CreateDateLayout renders fresh timestamps the way the Python peers do (isoformat, UTC, microseconds).
const CreateDateLayout = "2006-01-02T15:04:05.000000"

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// Timestamp is an ISO-8601 instant that re-encodes exactly as it was received.
type Timestamp struct {
	time.Time
	raw string
}

// NewTimestamp wraps t as a UTC timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// ParseTimestamp accepts ISO-8601 with or without zone and fractional seconds; zoneless values are UTC.
func ParseTimestamp(s string) (Timestamp, error) {
	if s == "" {
		return Timestamp{}, nil
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t.UTC(), raw: s}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
}

func (ts Timestamp) String() string {
	if ts.raw != "" {
		return ts.raw
	}
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(CreateDateLayout)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("CreateDate must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
