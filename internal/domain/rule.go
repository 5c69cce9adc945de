// Package domain holds the core entities and ports of the automation engine:
// rules, jobs, execution records, worker records, and the interfaces the
// engine requires from its collaborators.
package domain

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Platform identifiers for campaign targets.
const (
	PlatformM = "platform_m"
	PlatformG = "platform_g"
)

// Target actions.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
)

// TargetTypeAdSet is the only target granularity the engine accepts;
// campaign-level targets are rejected at ingress.
const TargetTypeAdSet = "ad_set"

// Platform-specific status values resolved from a target action.
const (
	StatusMPaused  = "PAUSED"
	StatusMActive  = "ACTIVE"
	StatusGPaused  = "PAUSED"
	StatusGEnabled = "ENABLED"
)

// Location is a geographic point the rule's weather is fetched for.
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// CampaignTarget names one ad set on one platform plus the desired action.
type CampaignTarget struct {
	Platform   string `json:"platform" validate:"oneof=platform_m platform_g"`
	CampaignID string `json:"campaign_id" validate:"required"`
	AdSetID    string `json:"ad_set_id" validate:"required"`
	Action     string `json:"action" validate:"oneof=pause resume"`
	TargetType string `json:"target_type" validate:"eq=ad_set"`
}

// TargetStatus resolves the platform-specific status string for an action.
// The zero string is returned for unknown platform/action combinations.
func TargetStatus(platform, action string) string {
	switch platform {
	case PlatformM:
		switch action {
		case ActionPause:
			return StatusMPaused
		case ActionResume:
			return StatusMActive
		}
	case PlatformG:
		switch action {
		case ActionPause:
			return StatusGPaused
		case ActionResume:
			return StatusGEnabled
		}
	}
	return ""
}

// Rule binds a location, weather conditions, and a list of ad-set targets.
// Rules are owned by the rule repository collaborator; the engine only reads
// them and writes back the last_checked_at / last_executed_at marks.
type Rule struct {
	ID                   string           `json:"id" validate:"required"`
	UserID               string           `json:"user_id" validate:"required"`
	IsActive             bool             `json:"is_active"`
	Location             Location         `json:"location"`
	Conditions           []Condition      `json:"conditions,omitempty"`
	ConditionLogic       *ConditionLogic  `json:"condition_logic,omitempty"`
	Campaigns            []CampaignTarget `json:"campaigns" validate:"min=1,dive"`
	CheckIntervalMinutes int              `json:"check_interval_minutes" validate:"gte=5,lte=1440"`
	LastCheckedAt        *time.Time       `json:"last_checked_at,omitempty"`
	LastExecutedAt       *time.Time       `json:"last_executed_at,omitempty"`
}

var ruleValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate enforces the ingress contract: coordinates in range, interval in
// [5,1440], at least one ad-set target with a known platform and action.
// The scheduler itself tolerates any positive interval; this bound applies
// only where rules enter the system.
func (r Rule) Validate() error {
	return ruleValidate.Struct(r)
}

// NextDueAt computes when the rule's next check is due: the later of now and
// last_checked_at + interval.
func (r Rule) NextDueAt(now time.Time) time.Time {
	if r.LastCheckedAt == nil {
		return now
	}
	due := r.LastCheckedAt.Add(time.Duration(r.CheckIntervalMinutes) * time.Minute)
	if due.Before(now) {
		return now
	}
	return due
}
