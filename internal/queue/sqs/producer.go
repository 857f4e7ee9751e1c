package sqsqueue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const eventCampaignScheduled = "campaign.scheduled"

type SendAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type Producer struct {
	SQS      SendAPI
	QueueURL string
}

// CampaignScheduled is emitted once a user's campaign is accepted for sending.
type CampaignScheduled struct {
	RunID         string    `json:"runId"`
	UserID        string    `json:"userId"`
	CampaignID    string    `json:"campaignId"`
	LaunchEventID string    `json:"launchEventId"`
	ScheduleTime  time.Time `json:"scheduleTime"`
}

func (p *Producer) PublishScheduled(ctx context.Context, ev CampaignScheduled) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: str("String"), StringValue: str(eventCampaignScheduled)},
		},
	}
	// FIFO queues dedupe a re-run for the same campaign.
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		in.MessageGroupId = str(ev.UserID)
		in.MessageDeduplicationId = str(ev.CampaignID)
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

func str(s string) *string { return &s }
