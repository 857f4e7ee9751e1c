package sqsqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type captureSQS struct {
	in *sqs.SendMessageInput
}

func (c *captureSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.in = in
	return &sqs.SendMessageOutput{}, nil
}

func TestPublishScheduled(t *testing.T) {
	c := &captureSQS{}
	p := &Producer{SQS: c, QueueURL: "https://sqs.us-west-2.amazonaws.com/1/scheduled"}
	at := time.Date(2024, 3, 10, 16, 30, 0, 0, time.UTC)

	if err := p.PublishScheduled(context.Background(), CampaignScheduled{RunID: "r", UserID: "u1", CampaignID: "c1", ScheduleTime: at}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var got CampaignScheduled
	if err := json.Unmarshal([]byte(*c.in.MessageBody), &got); err != nil {
		t.Fatalf("body: %v", err)
	}
	if got.CampaignID != "c1" || !got.ScheduleTime.Equal(at) {
		t.Fatalf("unexpected event %+v", got)
	}
	if *c.in.MessageAttributes["event_type"].StringValue != eventCampaignScheduled {
		t.Fatalf("missing event_type attribute")
	}
	if c.in.MessageGroupId != nil {
		t.Fatalf("standard queue must not set a group id")
	}
}

func TestPublishScheduledFIFO(t *testing.T) {
	c := &captureSQS{}
	p := &Producer{SQS: c, QueueURL: "https://sqs.us-west-2.amazonaws.com/1/scheduled.fifo"}
	if err := p.PublishScheduled(context.Background(), CampaignScheduled{UserID: "u1", CampaignID: "c1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if c.in.MessageGroupId == nil || *c.in.MessageGroupId != "u1" || *c.in.MessageDeduplicationId != "c1" {
		t.Fatalf("fifo fields not set: %+v", c.in)
	}
}
