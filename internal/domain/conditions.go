package domain

import "math"

// Weather parameters a condition may reference.
const (
	ParamTemperature   = "temperature"
	ParamHumidity      = "humidity"
	ParamWindSpeed     = "wind_speed"
	ParamPrecipitation = "precipitation"
	ParamVisibility    = "visibility"
	ParamCloudCover    = "cloud_cover"
)

// Condition operators.
const (
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpEquals      = "equals"
	OpBetween     = "between"
)

// Logical operators for groups and the global combiner.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// defaultBetweenRange applies when a between condition omits its range.
const defaultBetweenRange = 5.0

// WeatherSnapshot is the normalized current-weather reading the engine
// evaluates conditions against. Units: °C, %, m/s, mm/h, km, %.
type WeatherSnapshot struct {
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	Precipitation float64 `json:"precipitation"`
	Visibility    float64 `json:"visibility"`
	CloudCover    float64 `json:"cloud_cover"`
	Description   string  `json:"description,omitempty"`
	Icon          string  `json:"icon,omitempty"`
	ConditionID   int     `json:"condition_id,omitempty"`
}

// ValueFor returns the numeric reading for a condition parameter. Unknown
// parameters report ok=false, which makes the condition evaluate to false.
func (w WeatherSnapshot) ValueFor(parameter string) (float64, bool) {
	switch parameter {
	case ParamTemperature:
		return w.Temperature, true
	case ParamHumidity:
		return w.Humidity, true
	case ParamWindSpeed:
		return w.WindSpeed, true
	case ParamPrecipitation:
		return w.Precipitation, true
	case ParamVisibility:
		return w.Visibility, true
	case ParamCloudCover:
		return w.CloudCover, true
	default:
		return 0, false
	}
}

// Condition is a single numeric comparison against one weather parameter.
type Condition struct {
	Parameter string   `json:"parameter" validate:"oneof=temperature humidity wind_speed precipitation visibility cloud_cover"`
	Operator  string   `json:"operator" validate:"oneof=greater_than less_than equals between"`
	Value     float64  `json:"value"`
	Unit      string   `json:"unit,omitempty"`
	Range     *float64 `json:"range,omitempty"`
}

// Met evaluates the condition against a snapshot. Equality uses a 0.1
// tolerance, exclusive at the boundary. Between is value±range with the
// range defaulting to 5 when absent; an explicit range of 0 reduces it to
// an exact match of the endpoints.
func (c Condition) Met(w WeatherSnapshot) bool {
	v, ok := w.ValueFor(c.Parameter)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpGreaterThan:
		return v > c.Value
	case OpLessThan:
		return v < c.Value
	case OpEquals:
		return math.Abs(v-c.Value) < 0.1
	case OpBetween:
		r := defaultBetweenRange
		if c.Range != nil {
			r = *c.Range
		}
		return v >= c.Value-r && v <= c.Value+r
	default:
		return false
	}
}

// ConditionGroup combines its conditions with one logical operator.
type ConditionGroup struct {
	Operator   string      `json:"operator" validate:"oneof=AND OR"`
	Conditions []Condition `json:"conditions"`
}

// Met reduces the group to a boolean: AND is every condition, OR is any.
// A group without conditions is never met.
func (g ConditionGroup) Met(w WeatherSnapshot) bool {
	if len(g.Conditions) == 0 {
		return false
	}
	if g.Operator == LogicOr {
		for _, c := range g.Conditions {
			if c.Met(w) {
				return true
			}
		}
		return false
	}
	for _, c := range g.Conditions {
		if !c.Met(w) {
			return false
		}
	}
	return true
}

// TimeFrame is carried on condition logic for forecast-window rules. The
// current pipeline evaluates current weather only; the field is persisted
// and round-tripped untouched.
type TimeFrame struct {
	Days   int    `json:"days" validate:"gte=1,lte=5"`
	Action string `json:"action" validate:"oneof=on off"`
}

// ConditionLogic is the nested, two-level condition grammar: groups of
// conditions combined by a global operator.
type ConditionLogic struct {
	Groups         []ConditionGroup `json:"groups"`
	GlobalOperator string           `json:"global_operator" validate:"oneof=AND OR"`
	TimeFrame      *TimeFrame       `json:"time_frame,omitempty"`
}

// Met combines the group results via the global operator. Logic without
// groups is never met.
func (l ConditionLogic) Met(w WeatherSnapshot) bool {
	if len(l.Groups) == 0 {
		return false
	}
	if l.GlobalOperator == LogicOr {
		for _, g := range l.Groups {
			if g.Met(w) {
				return true
			}
		}
		return false
	}
	for _, g := range l.Groups {
		if !g.Met(w) {
			return false
		}
	}
	return true
}

// EvaluateConditions applies the legacy flat-list semantics: conjunction of
// all conditions, false when the list is empty.
func EvaluateConditions(conditions []Condition, w WeatherSnapshot) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, c := range conditions {
		if !c.Met(w) {
			return false
		}
	}
	return true
}

// ConditionsMet picks the nested logic when present, the flat list otherwise.
func (r Rule) ConditionsMet(w WeatherSnapshot) bool {
	if r.ConditionLogic != nil {
		return r.ConditionLogic.Met(w)
	}
	return EvaluateConditions(r.Conditions, w)
}

// ConditionCount reports how many leaf conditions the rule evaluates; used
// for the conditions_evaluated execution metric.
func (r Rule) ConditionCount() int {
	if r.ConditionLogic != nil {
		n := 0
		for _, g := range r.ConditionLogic.Groups {
			n += len(g.Conditions)
		}
		return n
	}
	return len(r.Conditions)
}
