// Package events consumes rule lifecycle events from Kafka and keeps the
// scheduler in sync: activations and updates (re)schedule the rule's check
// job, deactivations and deletions remove it.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// Rule lifecycle event names.
const (
	EventRuleActivated   = "rule.activated"
	EventRuleUpdated     = "rule.updated"
	EventRuleDeactivated = "rule.deactivated"
	EventRuleDeleted     = "rule.deleted"
)

// RuleEvent is the JSON envelope published by the rule management service.
// interval_minutes matters only for scheduling events.
type RuleEvent struct {
	Event           string `json:"event"`
	RuleID          string `json:"rule_id"`
	UserID          string `json:"user_id"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
}

// Scheduler is the slice of the engine the consumer drives.
type Scheduler interface {
	ScheduleRuleCheck(ctx context.Context, ruleID, userID string, intervalMinutes int) error
	RemoveRule(ctx context.Context, ruleID string) error
}

// Consumer is a franz-go consumer-group member for the rule-events topic.
// Events are idempotent commands (deterministic job ids), so plain
// at-least-once consumption with autocommit is enough.
type Consumer struct {
	client *kgo.Client
	sched  Scheduler

	groupID string
	topic   string
}

// New builds the consumer and ensures the topic exists. The returned consumer
// owns the client; callers must Close it.
func New(brokers []string, groupID, topic string, sched Scheduler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("op=events.New: no seed brokers")
	}
	if groupID == "" {
		return nil, errors.New("op=events.New: missing group id")
	}
	if topic == "" {
		return nil, errors.New("op=events.New: missing topic")
	}

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(
			kotel.TracerProvider(otel.GetTracerProvider()),
		)),
	)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=events.New: client: %w", err)
	}

	if err := ensureTopic(context.Background(), client, topic); err != nil {
		slog.Warn("rule-events topic creation failed, it may already exist",
			slog.String("topic", topic), slog.Any("error", err))
	}

	slog.Info("rule events consumer created",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("topic", topic))
	return &Consumer{client: client, sched: sched, groupID: groupID, topic: topic}, nil
}

// Run polls until the context is cancelled. Fetch errors are logged and
// polling continues; only context cancellation stops the loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		for _, ferr := range fetches.Errors() {
			slog.Warn("rule events fetch error",
				slog.String("topic", ferr.Topic),
				slog.Int("partition", int(ferr.Partition)),
				slog.Any("error", ferr.Err))
		}
		fetches.EachRecord(func(record *kgo.Record) {
			if err := c.handleRecord(ctx, record); err != nil {
				slog.Warn("rule event dropped",
					slog.Int64("offset", record.Offset),
					slog.Any("error", err))
			}
		})
	}
}

// handleRecord decodes one event and applies it to the scheduler. Unknown
// event names are skipped so the producer can evolve ahead of the workers.
func (c *Consumer) handleRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("events.consumer")
	ctx, span := tracer.Start(ctx, "HandleRuleEvent")
	defer span.End()

	var evt RuleEvent
	if err := json.Unmarshal(record.Value, &evt); err != nil {
		return fmt.Errorf("op=events.handleRecord: unmarshal: %w", err)
	}
	return c.apply(ctx, evt)
}

func (c *Consumer) apply(ctx context.Context, evt RuleEvent) error {
	if evt.RuleID == "" {
		return errors.New("op=events.apply: event without rule_id")
	}
	switch evt.Event {
	case EventRuleActivated, EventRuleUpdated:
		if err := c.sched.ScheduleRuleCheck(ctx, evt.RuleID, evt.UserID, evt.IntervalMinutes); err != nil {
			return fmt.Errorf("op=events.apply: schedule %s: %w", evt.RuleID, err)
		}
		slog.Info("rule check scheduled from event",
			slog.String("event", evt.Event),
			slog.String("rule_id", evt.RuleID),
			slog.Int("interval_minutes", evt.IntervalMinutes))
	case EventRuleDeactivated, EventRuleDeleted:
		if err := c.sched.RemoveRule(ctx, evt.RuleID); err != nil {
			return fmt.Errorf("op=events.apply: remove %s: %w", evt.RuleID, err)
		}
		slog.Info("rule check removed from event",
			slog.String("event", evt.Event),
			slog.String("rule_id", evt.RuleID))
	default:
		slog.Debug("unknown rule event skipped",
			slog.String("event", evt.Event),
			slog.String("rule_id", evt.RuleID))
	}
	return nil
}

// Close tears down the Kafka client, committing any marked offsets.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
