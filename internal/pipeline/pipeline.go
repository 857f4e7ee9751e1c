// Package pipeline drives one user from campaign creation to a scheduled send.
//
// Stages run in order: validate, resolve content, create campaign, persist the
// campaign id, populate content, schedule. Validation, content resolution,
// creation, population and scheduling failures stop the user's pipeline;
// a persistence failure is logged and the pipeline carries on.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sony/gobreaker"

	"launchsched/internal/domain"
	"launchsched/internal/observability"
	"launchsched/internal/providers/mailchimp"
	sqsqueue "launchsched/internal/queue/sqs"
	"launchsched/internal/sendtime"
)

// Session is one user's credentialed connection to the mail provider.
type Session interface {
	CreateCampaign(ctx context.Context, req mailchimp.CreateCampaignRequest) (mailchimp.Campaign, error)
	UpdateSettings(ctx context.Context, campaignID string, settings mailchimp.Settings) error
	SetContent(ctx context.Context, campaignID string, req mailchimp.ContentRequest) error
	Schedule(ctx context.Context, campaignID string, at time.Time) (mailchimp.Confirmation, error)
}

type SessionFactory func(apiKey string) (Session, error)

// MailchimpSessions adapts a mailchimp.Client to a SessionFactory.
func MailchimpSessions(c *mailchimp.Client) SessionFactory {
	return func(apiKey string) (Session, error) {
		s, err := c.Session(apiKey)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

type RecordUpdater interface {
	PersistCampaignID(ctx context.Context, userID, campaignID string) (domain.UserRecord, error)
}

type ContentResolver interface {
	GetUserNewsletter(ctx context.Context, user domain.UserRecord, defaultKey string) (domain.ContentAssignment, error)
}

type EventPublisher interface {
	PublishScheduled(ctx context.Context, ev sqsqueue.CampaignScheduled) error
}

type Pipeline struct {
	Sessions SessionFactory
	Records  RecordUpdater
	Content  ContentResolver
	Times    *sendtime.Resolver
	Events   EventPublisher // optional

	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Log     *slog.Logger

	RunID         string
	CampaignTitle string

	CallTimeout   time.Duration
	Attempts      int
	Backoff       func(attempt int) time.Duration
	SettleDelay   time.Duration
	ReadyAttempts int
}

// Run never returns an error: every failure is logged and reported in the Outcome.
func (p *Pipeline) Run(ctx context.Context, user domain.UserRecord, ev domain.LaunchEvent) domain.Outcome {
	log := p.logger().With("run_id", p.RunID, "user_id", user.UserID, "email", user.EmailAddress)
	out := domain.Outcome{UserID: user.UserID, Email: user.EmailAddress}

	fail := func(stage domain.Stage, err error) domain.Outcome {
		err = domain.AtStage(err, user.UserID, stage)
		observability.PipelineStage.WithLabelValues(string(stage), "error").Inc()
		log.Error("pipeline stage failed",
			"stage", stage,
			"kind", domain.KindOf(err),
			"campaign_id", out.CampaignID,
			"err", err,
		)
		out.Stage = stage
		out.Err = err
		return out
	}
	ok := func(stage domain.Stage) {
		observability.PipelineStage.WithLabelValues(string(stage), "ok").Inc()
	}

	if user.DecodeErr != nil {
		return fail(domain.StageValidate, user.DecodeErr)
	}
	sendAt, err := p.Times.ResolveUser(ev.LaunchDate, user)
	if err != nil {
		return fail(domain.StageValidate, err)
	}
	sess, err := p.Sessions(user.APIKey)
	if err != nil {
		return fail(domain.StageValidate, domain.ValidationError("api key: %w", err))
	}
	ok(domain.StageValidate)

	var content domain.ContentAssignment
	err = p.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		content, err = p.Content.GetUserNewsletter(ctx, user, ev.DefaultNewsletter)
		return err
	})
	if err != nil {
		return fail(domain.StageContent, err)
	}
	user.Newsletter = content
	user.Subject = content.Subject
	ok(domain.StageContent)
	log.Info("user newsletter resolved", "newsletter", content.NewsletterKey)

	campaignID, err := p.createCampaign(ctx, sess, user)
	if err != nil {
		return fail(domain.StageCreate, err)
	}
	user.CampaignID = campaignID
	out.CampaignID = campaignID
	ok(domain.StageCreate)
	log.Info("campaign created", "campaign_id", campaignID)

	if err := p.persistCampaignID(ctx, user.UserID, campaignID); err != nil {
		err = domain.AtStage(err, user.UserID, domain.StagePersist)
		observability.PipelineStage.WithLabelValues(string(domain.StagePersist), "error").Inc()
		log.Error("campaign id not saved on user record, continuing",
			"stage", domain.StagePersist,
			"kind", domain.KindOf(err),
			"campaign_id", campaignID,
			"err", err,
		)
		out.PersistErr = err
	} else {
		ok(domain.StagePersist)
	}

	if err := p.populateContent(ctx, sess, user); err != nil {
		return fail(domain.StagePopulate, err)
	}
	ok(domain.StagePopulate)

	conf, err := p.schedule(ctx, sess, campaignID, sendAt)
	if err != nil {
		return fail(domain.StageSchedule, err)
	}
	ok(domain.StageSchedule)
	out.ScheduledAt = sendAt
	out.Stage = domain.StageDone
	log.Info("campaign scheduled",
		"campaign_id", campaignID,
		"schedule_time", conf.ScheduleTime,
		"local_time", sendAt.In(p.Times.Location()).Format("2006-01-02 15:04 MST"),
	)

	p.publish(ctx, log, user, ev, sendAt)
	return out
}

func (p *Pipeline) publish(ctx context.Context, log *slog.Logger, user domain.UserRecord, ev domain.LaunchEvent, at time.Time) {
	if p.Events == nil {
		return
	}
	err := p.Events.PublishScheduled(ctx, sqsqueue.CampaignScheduled{
		RunID:         p.RunID,
		UserID:        user.UserID,
		CampaignID:    user.CampaignID,
		LaunchEventID: ev.ID,
		ScheduleTime:  at,
	})
	if err != nil {
		observability.PipelineStage.WithLabelValues(string(domain.StagePublish), "error").Inc()
		log.Warn("scheduled event not published", "stage", domain.StagePublish, "campaign_id", user.CampaignID, "err", err)
		return
	}
	observability.PipelineStage.WithLabelValues(string(domain.StagePublish), "ok").Inc()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
