package model

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeedPaths maps each feed to the path it is published under on the data source.
type FeedPaths map[FeedID]string

// DefaultFeedPaths are the paths used by the sensor board firmware.
func DefaultFeedPaths() FeedPaths {
	return FeedPaths{
		Temperature:  "sensor/temperature",
		Presence:     "sensor/humanPresence",
		SoilMoisture: "sensor/soil_moisture",
		Humidity:     "sensor/humidity",
	}
}

// Feeds returns the configured feeds in a stable order.
func (p FeedPaths) Feeds() []FeedID {
	out := make([]FeedID, 0, len(p))
	for f := range p {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (p FeedPaths) Clone() FeedPaths {
	out := make(FeedPaths, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParseFeedPaths reads "temperature=sensor/temperature,humidity=sensor/humidity".
// Feeds not mentioned keep their default path.
func ParseFeedPaths(s string) (FeedPaths, error) {
	out := DefaultFeedPaths()
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[1]) == "" {
			return nil, fmt.Errorf("invalid feed path entry: %q", pair)
		}
		feed, err := ParseFeedID(kv[0])
		if err != nil {
			return nil, err
		}
		out[feed] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

type feedFile struct {
	Feeds map[string]string `yaml:"feeds"`
}

// LoadFeedPaths reads a YAML feed map:
//
//	feeds:
//	  temperature: sensor/temperature
//	  humidity: greenhouse/humidity
//
// Feeds not mentioned keep their default path.
func LoadFeedPaths(r io.Reader) (FeedPaths, error) {
	var f feedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode feed file: %w", err)
	}
	out := DefaultFeedPaths()
	for name, path := range f.Feeds {
		feed, err := ParseFeedID(name)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("empty path for feed %s", feed)
		}
		out[feed] = strings.TrimSpace(path)
	}
	return out, nil
}
