package messages

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDecodeNumeric(t *testing.T) {
	ev, err := Decode(model.Temperature, []byte(`{"value":21.5,"timestamp":1717243200000}`), now)
	require.NoError(t, err)

	assert.Equal(t, model.Temperature, ev.Feed)
	require.NotNil(t, ev.Reading)
	assert.Equal(t, 21.5, ev.Reading.Value)
	assert.Nil(t, ev.Presence)
	assert.Equal(t, time.UnixMilli(1717243200000).UTC(), ev.Timestamp)
}

func TestDecodeNumericStringValue(t *testing.T) {
	ev, err := Decode(model.Humidity, []byte(`{"value":"48.2"}`), now)
	require.NoError(t, err)
	assert.Equal(t, 48.2, ev.Reading.Value)
	assert.Equal(t, now, ev.Timestamp, "missing timestamp falls back to receive time")
}

func TestDecodePresence(t *testing.T) {
	ev, err := Decode(model.Presence, []byte(`{"status":true,"timestamp":1717243200000}`), now)
	require.NoError(t, err)
	require.NotNil(t, ev.Presence)
	assert.True(t, ev.Presence.Detected)

	ev, err = Decode(model.Presence, []byte(`{"status":0}`), now)
	require.NoError(t, err)
	assert.False(t, ev.Presence.Detected)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name    string
		feed    model.FeedID
		payload string
	}{
		{"not json", model.Temperature, `not-json`},
		{"missing value", model.SoilMoisture, `{"timestamp":1}`},
		{"wrong value type", model.Humidity, `{"value":true}`},
		{"missing status", model.Presence, `{"value":1}`},
		{"null payload", model.Temperature, `null`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.feed, []byte(tc.payload), now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1717243200123).UTC()
	b, err := Encode(model.NewReadingEvent(model.SoilMoisture, 37, ts))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":37,"timestamp":1717243200123}`, string(b))

	b, err = Encode(model.NewPresenceEvent(true, ts))
	require.NoError(t, err)
	ev, err := Decode(model.Presence, b, now)
	require.NoError(t, err)
	assert.True(t, ev.Presence.Detected)
	assert.Equal(t, ts, ev.Timestamp)
}
