package domain

import "testing"

func ptr(v float64) *float64 { return &v }

func TestConditionMet_Operators(t *testing.T) {
	w := WeatherSnapshot{
		Temperature:   25.0,
		Humidity:      80,
		WindSpeed:     60,
		Precipitation: 0,
		Visibility:    8,
		CloudCover:    40,
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"greater_than met", Condition{Parameter: ParamTemperature, Operator: OpGreaterThan, Value: 20}, true},
		{"greater_than equal boundary", Condition{Parameter: ParamTemperature, Operator: OpGreaterThan, Value: 25}, false},
		{"less_than met", Condition{Parameter: ParamVisibility, Operator: OpLessThan, Value: 10}, true},
		{"less_than equal boundary", Condition{Parameter: ParamVisibility, Operator: OpLessThan, Value: 8}, false},
		{"equals inside tolerance", Condition{Parameter: ParamTemperature, Operator: OpEquals, Value: 25.05}, true},
		{"equals at tolerance boundary", Condition{Parameter: ParamTemperature, Operator: OpEquals, Value: 25.1}, false},
		{"equals outside tolerance", Condition{Parameter: ParamTemperature, Operator: OpEquals, Value: 26}, false},
		{"between default range", Condition{Parameter: ParamTemperature, Operator: OpBetween, Value: 22}, true},
		{"between default range low edge", Condition{Parameter: ParamTemperature, Operator: OpBetween, Value: 30}, true},
		{"between default range outside", Condition{Parameter: ParamTemperature, Operator: OpBetween, Value: 31}, false},
		{"between explicit range inclusive high", Condition{Parameter: ParamWindSpeed, Operator: OpBetween, Value: 50, Range: ptr(10)}, true},
		{"between explicit range outside", Condition{Parameter: ParamCloudCover, Operator: OpBetween, Value: 20, Range: ptr(10)}, false},
		{"between zero range exact", Condition{Parameter: ParamHumidity, Operator: OpBetween, Value: 80, Range: ptr(0)}, true},
		{"between zero range off by little", Condition{Parameter: ParamHumidity, Operator: OpBetween, Value: 80.5, Range: ptr(0)}, false},
		{"unknown parameter", Condition{Parameter: "uv_index", Operator: OpGreaterThan, Value: 1}, false},
		{"unknown operator", Condition{Parameter: ParamTemperature, Operator: "matches", Value: 25}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Met(w); got != tc.want {
				t.Fatalf("Met() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConditionMet_BetweenBoundaryIsInclusive(t *testing.T) {
	cond := Condition{Parameter: ParamWindSpeed, Operator: OpBetween, Value: 50, Range: ptr(10)}

	onBoundary := WeatherSnapshot{WindSpeed: 60}
	if !cond.Met(onBoundary) {
		t.Fatalf("wind 60 should satisfy between 50±10")
	}

	pastBoundary := WeatherSnapshot{WindSpeed: 60.5}
	if cond.Met(pastBoundary) {
		t.Fatalf("wind 60.5 should not satisfy between 50±10")
	}
}

func TestEvaluateConditions_FlatListIsConjunction(t *testing.T) {
	w := WeatherSnapshot{Temperature: 30, Humidity: 70}

	both := []Condition{
		{Parameter: ParamTemperature, Operator: OpGreaterThan, Value: 25},
		{Parameter: ParamHumidity, Operator: OpGreaterThan, Value: 60},
	}
	if !EvaluateConditions(both, w) {
		t.Fatalf("all conditions hold, want true")
	}

	oneFails := []Condition{
		{Parameter: ParamTemperature, Operator: OpGreaterThan, Value: 25},
		{Parameter: ParamHumidity, Operator: OpLessThan, Value: 60},
	}
	if EvaluateConditions(oneFails, w) {
		t.Fatalf("one condition fails, want false")
	}

	if EvaluateConditions(nil, w) {
		t.Fatalf("empty condition list must never trigger")
	}
}

func TestConditionGroup_Met(t *testing.T) {
	w := WeatherSnapshot{Temperature: 30, WindSpeed: 5}

	and := ConditionGroup{Operator: LogicAnd, Conditions: []Condition{
		{Parameter: ParamTemperature, Operator: OpGreaterThan, Value: 25},
		{Parameter: ParamWindSpeed, Operator: OpLessThan, Value: 10},
	}}
	if !and.Met(w) {
		t.Fatalf("AND group with all conditions met, want true")
	}

	or := ConditionGroup{Operator: LogicOr, Conditions: []Condition{
		{Parameter: ParamTemperature, Operator: OpLessThan, Value: 0},
		{Parameter: ParamWindSpeed, Operator: OpLessThan, Value: 10},
	}}
	if !or.Met(w) {
		t.Fatalf("OR group with one condition met, want true")
	}

	empty := ConditionGroup{Operator: LogicAnd}
	if empty.Met(w) {
		t.Fatalf("empty group must never be met")
	}
}

func TestConditionLogic_Met(t *testing.T) {
	w := WeatherSnapshot{Temperature: 30, Humidity: 20, WindSpeed: 5}

	hot := ConditionGroup{Operator: LogicAnd, Conditions: []Condition{
		{Parameter: ParamTemperature, Operator: OpGreaterThan, Value: 25},
	}}
	humid := ConditionGroup{Operator: LogicAnd, Conditions: []Condition{
		{Parameter: ParamHumidity, Operator: OpGreaterThan, Value: 60},
	}}

	andLogic := ConditionLogic{GlobalOperator: LogicAnd, Groups: []ConditionGroup{hot, humid}}
	if andLogic.Met(w) {
		t.Fatalf("global AND with one failing group, want false")
	}

	orLogic := ConditionLogic{GlobalOperator: LogicOr, Groups: []ConditionGroup{hot, humid}}
	if !orLogic.Met(w) {
		t.Fatalf("global OR with one passing group, want true")
	}

	empty := ConditionLogic{GlobalOperator: LogicOr}
	if empty.Met(w) {
		t.Fatalf("logic without groups must never be met")
	}
}

func TestRule_ConditionsMet_PrefersNestedLogic(t *testing.T) {
	w := WeatherSnapshot{Temperature: 30}

	r := Rule{
		Conditions: []Condition{
			{Parameter: ParamTemperature, Operator: OpLessThan, Value: 0},
		},
		ConditionLogic: &ConditionLogic{
			GlobalOperator: LogicAnd,
			Groups: []ConditionGroup{{
				Operator: LogicAnd,
				Conditions: []Condition{
					{Parameter: ParamTemperature, Operator: OpGreaterThan, Value: 25},
				},
			}},
		},
	}
	if !r.ConditionsMet(w) {
		t.Fatalf("nested logic should win over the flat list")
	}

	r.ConditionLogic = nil
	if r.ConditionsMet(w) {
		t.Fatalf("flat list should apply once nested logic is absent")
	}
}

func TestRule_ConditionCount(t *testing.T) {
	r := Rule{Conditions: []Condition{{}, {}}}
	if got := r.ConditionCount(); got != 2 {
		t.Fatalf("ConditionCount() = %d, want 2", got)
	}

	r.ConditionLogic = &ConditionLogic{Groups: []ConditionGroup{
		{Conditions: []Condition{{}, {}, {}}},
		{Conditions: []Condition{{}}},
	}}
	if got := r.ConditionCount(); got != 4 {
		t.Fatalf("ConditionCount() = %d, want 4", got)
	}
}

func TestWeatherSnapshot_ValueFor(t *testing.T) {
	w := WeatherSnapshot{
		Temperature:   1,
		Humidity:      2,
		WindSpeed:     3,
		Precipitation: 4,
		Visibility:    5,
		CloudCover:    6,
	}

	params := map[string]float64{
		ParamTemperature:   1,
		ParamHumidity:      2,
		ParamWindSpeed:     3,
		ParamPrecipitation: 4,
		ParamVisibility:    5,
		ParamCloudCover:    6,
	}
	for p, want := range params {
		got, ok := w.ValueFor(p)
		if !ok || got != want {
			t.Fatalf("ValueFor(%q) = (%v, %v), want (%v, true)", p, got, ok, want)
		}
	}

	if _, ok := w.ValueFor("dew_point"); ok {
		t.Fatalf("ValueFor should reject unknown parameters")
	}
}
