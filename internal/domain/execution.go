package domain

import "time"

// ActionResult records the outcome of one campaign action within a rule
// execution. Results keep the order of the rule's campaign targets.
type ActionResult struct {
	Platform   string `json:"platform"`
	CampaignID string `json:"campaign_id"`
	AdSetID    string `json:"ad_set_id,omitempty"`
	TargetType string `json:"target_type"`
	Action     string `json:"action"`
	Status     string `json:"status,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// ExecutionMetrics counts what one rule evaluation actually did. Call
// counters count attempts, so a retried call shows up once per try.
type ExecutionMetrics struct {
	WeatherAPICalls     int `json:"weather_api_calls"`
	PlatformMCalls      int `json:"platform_m_calls"`
	PlatformGCalls      int `json:"platform_g_calls"`
	ConditionsEvaluated int `json:"conditions_evaluated"`
	ActionsAttempted    int `json:"actions_attempted"`
	ActionsSucceeded    int `json:"actions_succeeded"`
}

// ExecutionRecord is the persisted audit entry for one rule evaluation.
// WeatherData is nil when the pipeline failed before a usable reading.
type ExecutionRecord struct {
	ID            string           `json:"id"`
	RuleID        string           `json:"rule_id"`
	UserID        string           `json:"user_id"`
	ExecutedAt    time.Time        `json:"executed_at"`
	WeatherData   *WeatherSnapshot `json:"weather_data,omitempty"`
	ConditionsMet bool             `json:"conditions_met"`
	Actions       []ActionResult   `json:"actions,omitempty"`
	Success       bool             `json:"success"`
	Error         string           `json:"error,omitempty"`
	DurationMS    int64            `json:"duration_ms"`
	Metrics       ExecutionMetrics `json:"metrics"`
}

// AdSet is the subset of a platform ad set the engine needs for validation
// and status updates.
type AdSet struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	CampaignID string `json:"campaign_id,omitempty"`
}
