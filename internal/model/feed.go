package model

import (
	"fmt"
	"strings"
	"time"
)

// FeedID identifies one of the live sensor feeds shown on the dashboard.
type FeedID uint8

const (
	Temperature FeedID = iota
	Presence
	SoilMoisture
	Humidity
)

// AllFeeds lists every feed in display order.
var AllFeeds = []FeedID{Temperature, Presence, SoilMoisture, Humidity}

func (f FeedID) String() string {
	switch f {
	case Temperature:
		return "temperature"
	case Presence:
		return "presence"
	case SoilMoisture:
		return "soil_moisture"
	case Humidity:
		return "humidity"
	default:
		return fmt.Sprintf("feed(%d)", uint8(f))
	}
}

// ParseFeedID accepts the names produced by String (case-insensitive).
func ParseFeedID(s string) (FeedID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temperature":
		return Temperature, nil
	case "presence", "humanpresence":
		return Presence, nil
	case "soil_moisture", "soilmoisture":
		return SoilMoisture, nil
	case "humidity":
		return Humidity, nil
	}
	return 0, fmt.Errorf("unknown feed %q", s)
}

// Numeric reports whether the feed carries a Reading (as opposed to a PresenceStatus).
func (f FeedID) Numeric() bool { return f != Presence }

// Reading is a numeric sensor value; the unit is implied by the feed.
type Reading struct {
	Value float64 `json:"value"`
}

// PresenceStatus is the payload of the presence feed.
type PresenceStatus struct {
	Detected bool `json:"detected"`
}

// FeedEvent is one decoded update from one feed. Exactly one of Reading and
// Presence is set. Epoch is the subscription generation that produced it.
type FeedEvent struct {
	Feed      FeedID
	Reading   *Reading
	Presence  *PresenceStatus
	Timestamp time.Time
	Epoch     uint64
}

// NewReadingEvent builds a numeric event.
func NewReadingEvent(feed FeedID, value float64, ts time.Time) FeedEvent {
	return FeedEvent{Feed: feed, Reading: &Reading{Value: value}, Timestamp: ts}
}

// NewPresenceEvent builds a presence event.
func NewPresenceEvent(detected bool, ts time.Time) FeedEvent {
	return FeedEvent{Feed: Presence, Presence: &PresenceStatus{Detected: detected}, Timestamp: ts}
}

// WithEpoch returns a copy of the event tagged with epoch.
func (e FeedEvent) WithEpoch(epoch uint64) FeedEvent {
	e.Epoch = epoch
	return e
}
