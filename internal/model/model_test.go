package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeedID(t *testing.T) {
	for _, f := range AllFeeds {
		got, err := ParseFeedID(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	got, err := ParseFeedID(" humanPresence ")
	require.NoError(t, err)
	assert.Equal(t, Presence, got)

	_, err = ParseFeedID("pressure")
	assert.Error(t, err)
}

func TestParseFeedPaths(t *testing.T) {
	paths, err := ParseFeedPaths("temperature=greenhouse/temp, humidity=greenhouse/hum")
	require.NoError(t, err)
	assert.Equal(t, "greenhouse/temp", paths[Temperature])
	assert.Equal(t, "greenhouse/hum", paths[Humidity])
	assert.Equal(t, "sensor/humanPresence", paths[Presence])
	assert.Equal(t, []FeedID{Temperature, Presence, SoilMoisture, Humidity}, paths.Feeds())

	_, err = ParseFeedPaths("temperature")
	assert.Error(t, err)
	_, err = ParseFeedPaths("wind=sensor/wind")
	assert.Error(t, err)
}

func TestLoadFeedPaths(t *testing.T) {
	paths, err := LoadFeedPaths(strings.NewReader(`
feeds:
  soil_moisture: field1/soil
  presence: hall/pir
`))
	require.NoError(t, err)
	assert.Equal(t, "field1/soil", paths[SoilMoisture])
	assert.Equal(t, "hall/pir", paths[Presence])
	assert.Equal(t, "sensor/temperature", paths[Temperature])

	paths, err = LoadFeedPaths(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultFeedPaths(), paths)

	_, err = LoadFeedPaths(strings.NewReader("feeds:\n  humidity: \"\"\n"))
	assert.Error(t, err)
	_, err = LoadFeedPaths(strings.NewReader("feeds: [1, 2"))
	assert.Error(t, err)
}

func TestClonedPathsAreIndependent(t *testing.T) {
	a := DefaultFeedPaths()
	b := a.Clone()
	b[Temperature] = "x"
	assert.Equal(t, "sensor/temperature", a[Temperature])
}

func TestTransportError(t *testing.T) {
	fe := NewTransportError(Humidity, 3, errors.New("permission denied"))
	assert.Equal(t, Humidity, fe.Feed)
	assert.Equal(t, TransportError, fe.Kind)
	assert.Equal(t, uint64(3), fe.Epoch)
	assert.Equal(t, "permission denied", fe.Message)
	assert.Contains(t, fe.Error(), "humidity")
}
