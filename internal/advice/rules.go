package advice

import "strings"

// List identifies one of the four ordered output lists of a Bundle.
type List int

const (
	Precautions List = iota
	AvoidPlaces
	RecommendedPlaces
	Activities
)

// String returns the JSON field name of the list.
func (l List) String() string {
	switch l {
	case Precautions:
		return "precautions"
	case AvoidPlaces:
		return "avoid_places"
	case RecommendedPlaces:
		return "recommended_places"
	case Activities:
		return "activities"
	default:
		return "unknown"
	}
}

// rule appends lines to target when the predicate holds.
type rule struct {
	name   string
	target List
	when   func(Flags) bool
	lines  []string
}

// rules is evaluated top to bottom; the order of appended text follows the
// order of this table within each list.
var rules = []rule{
	// Precautions
	{"hot", Precautions, func(f Flags) bool { return f.Hot }, []string{
		"Stay hydrated and carry a water bottle.",
		"Wear light, breathable clothes.",
		"Use sunscreen, sunglasses, and a cap/hat.",
	}},
	{"very_hot", Precautions, func(f Flags) bool { return f.Hot && f.VeryHot }, []string{
		"Avoid going out in peak afternoon hours if possible.",
	}},
	{"cold_or_cool", Precautions, func(f Flags) bool { return f.Cold || f.Cool }, []string{
		"Wear warm layers when going outside.",
		"Keep head and ears covered if it's windy.",
	}},
	{"wet", Precautions, func(f Flags) bool { return f.Rainy || f.Snowy }, []string{
		"Carry an umbrella or raincoat, and wear waterproof footwear.",
		"Be careful on slippery roads and pavements.",
	}},
	{"wet_humid", Precautions, func(f Flags) bool { return (f.Rainy || f.Snowy) && f.VeryHumid }, []string{
		"Allow extra travel time due to slow traffic.",
	}},
	{"stormy_or_very_windy", Precautions, func(f Flags) bool { return f.Stormy || f.VeryWindy }, []string{
		"Stay away from large trees and weak structures during strong winds.",
		"Avoid riding two-wheelers in very strong wind if possible.",
	}},
	{"foggy", Precautions, func(f Flags) bool { return f.Foggy }, []string{
		"If driving, keep headlights on low beam.",
		"Maintain safe distance from the vehicle in front.",
	}},

	// Places to avoid
	{"rainy_or_stormy", AvoidPlaces, func(f Flags) bool { return f.Rainy || f.Stormy }, []string{
		"Open parks and large open fields during heavy rain or storms.",
		"Waterfront areas like beaches during strong winds.",
	}},
	{"very_hot", AvoidPlaces, func(f Flags) bool { return f.VeryHot }, []string{
		"Open grounds in direct afternoon sun.",
		"Crowded, poorly ventilated markets in peak heat.",
	}},
	{"cold_or_snowy", AvoidPlaces, func(f Flags) bool { return f.Cold || f.Snowy }, []string{
		"Spending long time outside without proper winter wear.",
	}},
	{"foggy", AvoidPlaces, func(f Flags) bool { return f.Foggy }, []string{
		"High-speed highways or hilly roads in very low visibility.",
	}},

	// Recommended places
	{"pleasant", RecommendedPlaces, func(f Flags) bool { return f.Pleasant }, []string{
		"City parks and gardens.",
		"Lakeside or riverside promenades.",
		"Outdoor cafes.",
	}},
	{"hot", RecommendedPlaces, func(f Flags) bool { return f.Hot }, []string{
		"Malls and indoor shopping centers.",
		"Air-conditioned cafes.",
		"Indoor gyms or sports clubs.",
	}},
	{"cold_or_cool", RecommendedPlaces, func(f Flags) bool { return f.Cold || f.Cool }, []string{
		"Cozy cafes or bookshops.",
		"Indoor museums or galleries.",
	}},
	{"rainy", RecommendedPlaces, func(f Flags) bool { return f.Rainy }, []string{
		"Malls, cinemas, and indoor gaming zones.",
		"Indoor food courts and coffee shops.",
	}},

	// Activities
	{"pleasant", Activities, func(f Flags) bool { return f.Pleasant }, []string{
		"Morning or evening walk/jog.",
		"Cycling in nearby areas.",
		"Picnic with friends or family.",
	}},
	{"hot", Activities, func(f Flags) bool { return f.Hot }, []string{
		"Swimming in a safe pool.",
		"Light indoor workouts or yoga.",
		"Evening or early-morning walks instead of afternoon outings.",
	}},
	{"cold_or_cool", Activities, func(f Flags) bool { return f.Cold || f.Cool }, []string{
		"Hot beverages at a nearby café.",
		"Movie night at home or cinema.",
	}},
	{"rainy", Activities, func(f Flags) bool { return f.Rainy }, []string{
		"Watching movies or series.",
		"Indoor hobbies like reading or cooking.",
	}},
	{"stormy_or_very_windy", Activities, func(f Flags) bool { return f.Stormy || f.VeryWindy }, []string{
		"Stay indoors and catch up on reading or online courses.",
		"Light indoor workouts or stretching.",
	}},
	{"snowy", Activities, func(f Flags) bool { return f.Snowy }, []string{
		"Short walks to enjoy snow with warm clothing.",
		"Indoor games and warm drinks.",
	}},
}

// fallbacks holds the single line added to a list that no rule contributed to.
var fallbacks = [...]string{
	Precautions:       "Weather seems normal. Usual daily precautions are enough.",
	AvoidPlaces:       "No specific places to avoid due to weather. Follow usual safety tips.",
	RecommendedPlaces: "Cafes, libraries, or indoor hangout spots nearby.",
	Activities:        "Normal daily activities as per your routine.",
}

// Fallback returns the generic line used when list would otherwise be empty.
func Fallback(l List) string {
	return fallbacks[l]
}

var summaries = []struct {
	when     func(Flags) bool
	sentence string
}{
	{func(f Flags) bool { return f.Hot }, "It's quite hot."},
	{func(f Flags) bool { return f.Cold }, "It's quite cold."},
	{func(f Flags) bool { return f.Rainy }, "Expect rain."},
	{func(f Flags) bool { return f.Stormy }, "Conditions are stormy or very windy."},
	{func(f Flags) bool { return f.Pleasant }, "Weather is pleasant for outdoor plans."},
}

// SummaryFallback is the summary when no summary sentence matches.
const SummaryFallback = "Weather looks normal overall."

// Derive returns the advice bundle for r. It never fails.
func Derive(r Reading) Bundle {
	b, _ := Explain(r)
	return b
}

// Explain is Derive plus the names of the rules that fired, in evaluation
// order. Fallback lines are reported as "fallback:<list>".
func Explain(r Reading) (Bundle, []string) {
	f := Classify(r)

	var lists [len(fallbacks)][]string
	var fired []string
	for _, ru := range rules {
		if !ru.when(f) {
			continue
		}
		lists[ru.target] = append(lists[ru.target], ru.lines...)
		fired = append(fired, ru.target.String()+":"+ru.name)
	}

	for l := range lists {
		if len(lists[l]) == 0 {
			lists[l] = []string{fallbacks[l]}
			fired = append(fired, "fallback:"+List(l).String())
		}
	}

	return Bundle{
		Summary:           summarize(f),
		Precautions:       lists[Precautions],
		AvoidPlaces:       lists[AvoidPlaces],
		RecommendedPlaces: lists[RecommendedPlaces],
		Activities:        lists[Activities],
	}, fired
}

func summarize(f Flags) string {
	var parts []string
	for _, s := range summaries {
		if s.when(f) {
			parts = append(parts, s.sentence)
		}
	}
	if len(parts) == 0 {
		return SummaryFallback
	}
	return strings.Join(parts, " ")
}
