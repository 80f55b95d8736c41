package models

import (
	"encoding/json"
	"time"

	"github.com/kjstillabower/weather-advice-service/internal/advice"
)

// ProviderName is reported in every response's meta block.
const ProviderName = "WeatherAPI.com"

// Source values for Meta.Source.
const (
	SourceCache = "cache"
	SourceLive  = "live"
)

// WeatherData is the provider payload normalized to a provider-independent shape.
// This is the unit stored in cache. Numeric fields are nil when the provider omits them.
type WeatherData struct {
	Location    Location        `json:"location"`
	Weather     Conditions      `json:"weather"`
	Wind        Wind            `json:"wind"`
	Sun         Sun             `json:"sun"`
	ProviderRaw json.RawMessage `json:"provider_raw,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type Location struct {
	City        string      `json:"city"`
	Country     string      `json:"country"`
	Coordinates Coordinates `json:"coordinates"`
}

type Coordinates struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Conditions holds current conditions. Temperatures are Celsius, pressure is millibar.
type Conditions struct {
	Temperature *float64 `json:"temperature"`
	FeelsLike   *float64 `json:"feels_like"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Cloudiness  *float64 `json:"cloudiness"`
}

// Wind speed is km/h, direction in degrees.
type Wind struct {
	Speed *float64 `json:"speed"`
	Deg   *float64 `json:"deg"`
}

// Sun times are not supplied by the current-conditions endpoint and stay null.
type Sun struct {
	SunriseUTC *string `json:"sunrise_utc"`
	SunsetUTC  *string `json:"sunset_utc"`
}

// Reading projects the payload onto the advice engine's input.
func (d WeatherData) Reading() advice.Reading {
	return advice.Reading{
		Temperature: d.Weather.Temperature,
		Humidity:    d.Weather.Humidity,
		WindSpeed:   d.Wind.Speed,
		Description: d.Weather.Description,
	}
}
