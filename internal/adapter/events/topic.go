package events

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// errTopicAlreadyExists is Kafka protocol error code 36.
const errTopicAlreadyExists = 36

// ensureTopic creates the rule-events topic with a single partition when it
// does not exist yet. Ordering per rule matters, and rule-event volume is
// tiny, so one partition is the right shape.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30_000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = 1
	topicReq.ReplicationFactor = 1
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=events.ensureTopic: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=events.ensureTopic: unexpected response type %T", resp)
	}
	for _, tr := range createResp.Topics {
		if tr.ErrorCode == 0 || tr.ErrorCode == errTopicAlreadyExists {
			continue
		}
		msg := ""
		if tr.ErrorMessage != nil {
			msg = *tr.ErrorMessage
		}
		return fmt.Errorf("op=events.ensureTopic: topic %s: %s (code %d)", tr.Topic, msg, tr.ErrorCode)
	}
	return nil
}
