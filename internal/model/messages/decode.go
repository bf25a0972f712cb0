package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
)

// Decode turns one raw notification payload into a FeedEvent. Any payload
// that does not carry the feed's expected field yields an error wrapping
// ErrMalformed. now is used when the payload has no timestamp.
func Decode(feed model.FeedID, payload []byte, now time.Time) (model.FeedEvent, error) {
	if !feed.Numeric() {
		var p PresencePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return model.FeedEvent{}, fmt.Errorf("%w: %s: %v", ErrMalformed, feed, err)
		}
		if p.Status == nil {
			return model.FeedEvent{}, fmt.Errorf("%w: %s: missing status", ErrMalformed, feed)
		}
		return model.NewPresenceEvent(*p.Status, p.Time(now)), nil
	}

	var n NumericPayload
	if err := json.Unmarshal(payload, &n); err != nil {
		return model.FeedEvent{}, fmt.Errorf("%w: %s: %v", ErrMalformed, feed, err)
	}
	if n.Value == nil {
		return model.FeedEvent{}, fmt.Errorf("%w: %s: missing value", ErrMalformed, feed)
	}
	return model.NewReadingEvent(feed, *n.Value, n.Time(now)), nil
}

// Encode is the inverse of Decode, used by the simulator and tests.
func Encode(ev model.FeedEvent) ([]byte, error) {
	ts := ev.Timestamp.UnixMilli()
	if !ev.Feed.Numeric() {
		if ev.Presence == nil {
			return nil, fmt.Errorf("%w: presence event without status", ErrMalformed)
		}
		st := ev.Presence.Detected
		return json.Marshal(PresencePayload{Status: &st, Timestamp: &ts})
	}
	if ev.Reading == nil {
		return nil, fmt.Errorf("%w: %s event without value", ErrMalformed, ev.Feed)
	}
	v := ev.Reading.Value
	return json.Marshal(NumericPayload{Value: &v, Timestamp: &ts})
}
