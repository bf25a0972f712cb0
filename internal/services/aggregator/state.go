package aggregator

import "time"

// DashboardState is one published snapshot. Pointer fields stay nil until
// the first event of their feed arrives. A snapshot is never modified after
// it has been published; each change produces a new Version.
type DashboardState struct {
	Temperature        *float64   `json:"temperature"`
	Presence           *bool      `json:"presence"`
	SoilMoisture       *float64   `json:"soilMoisture"`
	Humidity           *float64   `json:"humidity"`
	TemperatureHistory []float64  `json:"temperatureHistory"`
	LastUpdateTime     *time.Time `json:"lastUpdateTime"`
	Loading            bool       `json:"loading"`
	Error              string     `json:"error,omitempty"`
	Version            uint64     `json:"version"`
}

// HasError reports whether a failure is being surfaced.
func (s DashboardState) HasError() bool { return s.Error != "" }

// clone copies the history slice; the pointed-to values are never written
// after publication so they can be shared.
func (s DashboardState) clone() DashboardState {
	out := s
	if s.TemperatureHistory != nil {
		out.TemperatureHistory = append([]float64(nil), s.TemperatureHistory...)
	}
	return out
}
