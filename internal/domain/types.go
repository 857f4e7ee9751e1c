package domain

import "time"

// Stage names a step of the per-user pipeline. Used in logs, metrics and errors.
type Stage string

const (
	StageValidate Stage = "validate"
	StageContent  Stage = "resolve_content"
	StageCreate   Stage = "create_campaign"
	StagePersist  Stage = "persist_campaign_id"
	StagePopulate Stage = "populate_content"
	StageSchedule Stage = "schedule"
	StagePublish  Stage = "publish_event"
	StageDone     Stage = "scheduled"
)

// UserRecord is one row of the users table. DelayDays and DelayTime are raw
// store values; sendtime.ParseDelayDays / ParseDelayTime validate them.
type UserRecord struct {
	UserID       string `dynamodbav:"userId"`
	FirstName    string `dynamodbav:"firstName"`
	LastName     string `dynamodbav:"lastName"`
	EmailAddress string `dynamodbav:"emailAddress"`
	APIKey       string `dynamodbav:"apiKey"`
	ListID       string `dynamodbav:"listId"`
	TemplateID   int    `dynamodbav:"templateId"`
	DelayDays    *int   `dynamodbav:"delayDays"`
	DelayTime    string `dynamodbav:"delayTime"`
	CampaignID   string `dynamodbav:"campaignId,omitempty"`

	// Filled in during the run, never scanned.
	Subject    string            `dynamodbav:"-"`
	Newsletter ContentAssignment `dynamodbav:"-"`

	// DecodeErr is set when the stored item did not match this shape; only
	// the identifying fields above are filled in then.
	DecodeErr error `dynamodbav:"-"`
}

func (u UserRecord) FromName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type LaunchEvent struct {
	ID                string
	LaunchDate        time.Time
	DefaultNewsletter string
}

// ContentAssignment is the newsletter resolved for one user.
type ContentAssignment struct {
	NewsletterKey string
	Subject       string
	Sections      map[string]string
}

// Outcome is the settled result of one user's pipeline.
type Outcome struct {
	UserID      string
	Email       string
	Stage       Stage
	CampaignID  string
	ScheduledAt time.Time
	Err         error
	// PersistErr is set when the campaign id could not be written back;
	// the pipeline still runs to completion in that case.
	PersistErr error
}

func (o Outcome) Scheduled() bool { return o.Err == nil && o.Stage == StageDone }
