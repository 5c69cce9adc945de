package domain

import (
	"context"
	"time"
)

// Context aliases the standard context to keep port signatures compact.
type Context = context.Context

// PlatformAccount is a user's connected ad account on one platform,
// carrying the token material the platform clients authenticate with.
type PlatformAccount struct {
	UserID      string
	Platform    string
	AccountID   string
	AccessToken string
	ExpiresAt   *time.Time
	UpdatedAt   time.Time
}

// Repositories (ports)

//go:generate mockery --name=RuleRepository --with-expecter --filename=rule_repository_mock.go
//go:generate mockery --name=ExecutionRepository --with-expecter --filename=execution_repository_mock.go
//go:generate mockery --name=AccountRepository --with-expecter --filename=account_repository_mock.go

type RuleRepository interface {
	Get(ctx Context, id string) (Rule, error)
	List(ctx Context) ([]Rule, error)
	ListActive(ctx Context) ([]Rule, error)
	SetLastChecked(ctx Context, id string, at time.Time) error
	SetLastExecuted(ctx Context, id string, at time.Time) error
}

type ExecutionRepository interface {
	Append(ctx Context, rec ExecutionRecord) (string, error)
	ListByRule(ctx Context, ruleID string, limit int) ([]ExecutionRecord, error)
}

type AccountRepository interface {
	// Get returns ErrCredentialsMissing when the user has no connected
	// account for the platform.
	Get(ctx Context, userID, platform string) (PlatformAccount, error)
}

type WorkerRepository interface {
	// Register upserts the worker row, resetting started_at and heartbeat.
	Register(ctx Context, w WorkerInfo) error
	Heartbeat(ctx Context, id string, currentJobs int) error
	IncrementProcessed(ctx Context, id string, success bool) error
	SetStatus(ctx Context, id, status string) error
	// List returns all workers ordered by started_at descending.
	List(ctx Context) ([]WorkerInfo, error)
}

// External clients (ports)

type WeatherClient interface {
	// CurrentWeather returns a normalized reading for the location.
	CurrentWeather(ctx Context, loc Location) (WeatherSnapshot, error)
}

type PlatformMClient interface {
	GetAdSet(ctx Context, account PlatformAccount, adSetID string) (AdSet, error)
	UpdateAdSetStatus(ctx Context, account PlatformAccount, adSetID, status string) error
	UpdateCampaignStatus(ctx Context, account PlatformAccount, campaignID, status string) error
}

type PlatformGClient interface {
	UpdateCampaignStatus(ctx Context, account PlatformAccount, campaignID, status string) error
}
