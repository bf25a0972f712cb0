package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
)

const (
	// gainPerMin: soil moisture gain per minute while watering, in [0..1].
	gainPerMin = 0.006

	defaultTemperature = 21.0
	defaultHumidity    = 0.50
	defaultSoil        = 0.30
)

// DataGenerator keeps a drifting value per feed and advances it on each
// call to Next. Temperature and humidity random-walk inside fixed bounds,
// soil moisture decays over time unless watering, presence flips now and then.
type DataGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time

	last        time.Time
	temperature float64
	humidity    float64 // [0..1]
	moisture    float64 // [0..1]
	presence    bool
	watering    bool

	decayPerMin float64
	flipChance  float64
}

// NewDataGenerator builds a generator; decayPerMin is the soil moisture
// loss per minute while not watering.
func NewDataGenerator(decayPerMin float64, seed int64) *DataGenerator {
	return &DataGenerator{
		rnd:         rand.New(rand.NewSource(seed)),
		now:         func() time.Time { return time.Now().UTC() },
		temperature: defaultTemperature,
		humidity:    defaultHumidity,
		moisture:    defaultSoil,
		decayPerMin: math.Max(0, decayPerMin),
		flipChance:  0.2,
	}
}

// Next advances feed and returns its new reading.
func (g *DataGenerator) Next(feed model.FeedID) model.FeedEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	switch feed {
	case model.Temperature:
		g.temperature = clamp(g.temperature+g.rnd.NormFloat64()*0.3, -10, 45)
		return model.NewReadingEvent(feed, round1(g.temperature), now)
	case model.Humidity:
		g.humidity = clamp(g.humidity+g.rnd.NormFloat64()*0.01, 0, 1)
		return model.NewReadingEvent(feed, round1(g.humidity*100), now)
	case model.SoilMoisture:
		g.advanceSoil(now)
		return model.NewReadingEvent(feed, round1(g.moisture*100), now)
	default:
		if g.rnd.Float64() < g.flipChance {
			g.presence = !g.presence
		}
		return model.NewPresenceEvent(g.presence, now)
	}
}

func (g *DataGenerator) advanceSoil(now time.Time) {
	if g.last.IsZero() {
		g.last = now
		return
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	if g.watering {
		g.moisture = clamp(g.moisture+gainPerMin*dtMin, 0, 1)
	} else {
		g.moisture = clamp(g.moisture-g.decayPerMin*dtMin, 0, 1)
	}
	g.last = now
}

// SetWatering switches soil moisture between decay and gain.
func (g *DataGenerator) SetWatering(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceSoil(g.now())
	g.watering = on
}

func (g *DataGenerator) Watering() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.watering
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, x))
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
