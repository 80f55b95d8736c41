// Package advice derives human-readable weather advice from a normalized reading.
// Derivation is a pure function: classification flags are computed once from the
// reading, then an ordered rule table appends fixed text to each output list.
package advice

import "strings"

// Reading is the minimal weather input the engine consumes. Nil numeric fields
// are absent and suppress every flag that depends on them.
type Reading struct {
	Temperature *float64 `json:"temperature"` // degrees Celsius
	Humidity    *float64 `json:"humidity"`    // percent
	WindSpeed   *float64 `json:"wind_speed"`  // km/h
	Description string   `json:"description"`
}

// Bundle is the advice produced for one reading. The four lists are never empty.
type Bundle struct {
	Summary           string   `json:"summary"`
	Precautions       []string `json:"precautions"`
	AvoidPlaces       []string `json:"avoid_places"`
	RecommendedPlaces []string `json:"recommended_places"`
	Activities        []string `json:"activities"`
}

// Flags are the boolean classifications rule predicates match against.
type Flags struct {
	Rainy  bool
	Stormy bool
	Snowy  bool
	Foggy  bool

	Hot      bool
	VeryHot  bool
	Cold     bool
	Cool     bool
	Pleasant bool

	Windy     bool
	VeryWindy bool

	VeryHumid bool
}

// Thresholds, inclusive unless noted.
const (
	hotMin       = 32.0
	veryHotMin   = 37.0
	coldMax      = 10.0
	coolMax      = 18.0 // exclusive
	pleasantMin  = 18.0
	pleasantMax  = 30.0
	windyMin     = 8.0
	veryWindyMin = 12.0
	veryHumidMin = 85.0 // exclusive
)

var (
	rainKeywords  = []string{"rain", "drizzle", "shower"}
	stormKeywords = []string{"storm", "thunder"}
	snowKeywords  = []string{"snow"}
	fogKeywords   = []string{"fog", "mist", "haze"}
)

// Classify computes the flags for r. Description keywords match as
// case-insensitive substrings.
func Classify(r Reading) Flags {
	desc := strings.ToLower(r.Description)

	var f Flags
	f.Rainy = containsAny(desc, rainKeywords)
	f.Stormy = containsAny(desc, stormKeywords)
	f.Snowy = containsAny(desc, snowKeywords)
	f.Foggy = containsAny(desc, fogKeywords)

	if t := r.Temperature; t != nil {
		f.Hot = *t >= hotMin
		f.VeryHot = *t >= veryHotMin
		f.Cold = *t <= coldMax
		f.Cool = *t > coldMax && *t < coolMax
		f.Pleasant = *t >= pleasantMin && *t <= pleasantMax &&
			!f.Rainy && !f.Stormy && !f.Snowy
	}

	if w := r.WindSpeed; w != nil {
		f.Windy = *w >= windyMin
		f.VeryWindy = *w >= veryWindyMin
	}

	if h := r.Humidity; h != nil {
		f.VeryHumid = *h > veryHumidMin
	}
	return f
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Float returns a pointer to v. Convenience for building readings.
func Float(v float64) *float64 {
	return &v
}
