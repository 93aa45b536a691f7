package flight

// wmoConditions maps the numeric weather codes the forecast API reports to
// the condition strings the rest of the system matches on.
var wmoConditions = map[int]string{
	0:  "Clear",
	1:  "Mainly Clear",
	2:  "Partly Cloudy",
	3:  "Overcast",
	45: "Foggy",
	48: "Foggy",
	51: "Light Drizzle",
	53: "Drizzle",
	55: "Heavy Drizzle",
	61: "Light Rain",
	63: "Rain",
	65: "Heavy Rain",
	71: "Light Snow",
	73: "Snow",
	75: "Heavy Snow",
	80: "Light Showers",
	81: "Showers",
	82: "Heavy Showers",
	95: "Thunderstorm",
}

// DecodeWeatherCode returns the condition string for a numeric weather code.
// Unknown codes decode to "Unknown" rather than erroring - a bad code from
// the upstream API must never poison an observation.
func DecodeWeatherCode(code int) string {
	if cond, ok := wmoConditions[code]; ok {
		return cond
	}
	return StatusUnknown
}

// PlaceholderTemperatureF substitutes for a missing temperature reading so
// downstream consumers never see a zero that looks like a real observation.
const PlaceholderTemperatureF = 70
