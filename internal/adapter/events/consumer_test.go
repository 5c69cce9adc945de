package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type schedulerFake struct {
	scheduled []string
	removed   []string
	intervals map[string]int
	err       error
}

func (f *schedulerFake) ScheduleRuleCheck(_ context.Context, ruleID, _ string, intervalMinutes int) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, ruleID)
	if f.intervals == nil {
		f.intervals = map[string]int{}
	}
	f.intervals[ruleID] = intervalMinutes
	return nil
}

func (f *schedulerFake) RemoveRule(_ context.Context, ruleID string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, ruleID)
	return nil
}

func record(t *testing.T, evt RuleEvent) *kgo.Record {
	t.Helper()
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	return &kgo.Record{Key: []byte(evt.RuleID), Value: raw}
}

func TestHandleRecordActivatedSchedules(t *testing.T) {
	fake := &schedulerFake{}
	c := &Consumer{sched: fake}

	err := c.handleRecord(context.Background(), record(t, RuleEvent{
		Event: EventRuleActivated, RuleID: "r-1", UserID: "u-1", IntervalMinutes: 30,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1"}, fake.scheduled)
	assert.Equal(t, 30, fake.intervals["r-1"])
}

func TestHandleRecordUpdatedReschedules(t *testing.T) {
	fake := &schedulerFake{}
	c := &Consumer{sched: fake}

	err := c.handleRecord(context.Background(), record(t, RuleEvent{
		Event: EventRuleUpdated, RuleID: "r-2", UserID: "u-1", IntervalMinutes: 15,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"r-2"}, fake.scheduled)
}

func TestHandleRecordDeactivatedRemoves(t *testing.T) {
	fake := &schedulerFake{}
	c := &Consumer{sched: fake}

	for _, evt := range []string{EventRuleDeactivated, EventRuleDeleted} {
		err := c.handleRecord(context.Background(), record(t, RuleEvent{Event: evt, RuleID: "r-3"}))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"r-3", "r-3"}, fake.removed)
	assert.Empty(t, fake.scheduled)
}

func TestHandleRecordUnknownEventSkipped(t *testing.T) {
	fake := &schedulerFake{}
	c := &Consumer{sched: fake}

	err := c.handleRecord(context.Background(), record(t, RuleEvent{Event: "rule.archived", RuleID: "r-4"}))
	require.NoError(t, err)
	assert.Empty(t, fake.scheduled)
	assert.Empty(t, fake.removed)
}

func TestHandleRecordMalformedPayload(t *testing.T) {
	c := &Consumer{sched: &schedulerFake{}}
	err := c.handleRecord(context.Background(), &kgo.Record{Value: []byte("{not json")})
	assert.Error(t, err)
}

func TestHandleRecordMissingRuleID(t *testing.T) {
	c := &Consumer{sched: &schedulerFake{}}
	err := c.handleRecord(context.Background(), record(t, RuleEvent{Event: EventRuleActivated}))
	assert.Error(t, err)
}

func TestHandleRecordSchedulerFailureSurfaces(t *testing.T) {
	fake := &schedulerFake{err: errors.New("store down")}
	c := &Consumer{sched: fake}

	err := c.handleRecord(context.Background(), record(t, RuleEvent{
		Event: EventRuleActivated, RuleID: "r-5", IntervalMinutes: 10,
	}))
	assert.ErrorContains(t, err, "store down")
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, "g", "t", &schedulerFake{})
	assert.Error(t, err)
	_, err = New([]string{"localhost:9092"}, "", "t", &schedulerFake{})
	assert.Error(t, err)
	_, err = New([]string{"localhost:9092"}, "g", "", &schedulerFake{})
	assert.Error(t, err)
}
