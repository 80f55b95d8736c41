package models

import (
	"encoding/json"

	"github.com/kjstillabower/weather-advice-service/internal/advice"
)

// Meta describes where a report's weather data came from.
type Meta struct {
	Source   string `json:"source"`
	Provider string `json:"provider"`
	Stale    bool   `json:"stale,omitempty"` // served from stale cache after an upstream failure
}

// Report is the response payload for a city lookup.
type Report struct {
	Meta        Meta            `json:"meta"`
	Location    Location        `json:"location"`
	Weather     Conditions      `json:"weather"`
	Wind        Wind            `json:"wind"`
	Sun         Sun             `json:"sun"`
	Advice      advice.Bundle   `json:"advice"`
	ProviderRaw json.RawMessage `json:"provider_raw,omitempty"`
}

// NewReport assembles a report from normalized data, its origin, and derived advice.
func NewReport(data WeatherData, meta Meta, bundle advice.Bundle) Report {
	if meta.Provider == "" {
		meta.Provider = ProviderName
	}
	return Report{
		Meta:        meta,
		Location:    data.Location,
		Weather:     data.Weather,
		Wind:        data.Wind,
		Sun:         data.Sun,
		Advice:      bundle,
		ProviderRaw: data.ProviderRaw,
	}
}
