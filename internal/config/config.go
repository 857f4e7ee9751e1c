package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type SchedulerConfig struct {
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Postgres: launch events and newsletter content
	DBDSN      string `envconfig:"DB_DSN" required:"true"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"4"`

	// AWS / DynamoDB / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	UsersTable         string `envconfig:"USERS_TABLE" default:"tr-users"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"` // optional: scheduled-campaign events

	// Mailchimp
	MailchimpBaseURL string  `envconfig:"MAILCHIMP_BASE_URL"` // empty: derived from each api key
	MailchimpRPS     float64 `envconfig:"MAILCHIMP_RPS" default:"10"`
	MailchimpBurst   int     `envconfig:"MAILCHIMP_BURST" default:"5"`
	CampaignTitle    string  `envconfig:"CAMPAIGN_TITLE" default:"Trusty Raven Newsletter"`

	// Run shape
	BatchSize             int           `envconfig:"BATCH_SIZE" default:"5"`
	ReferenceTZ           string        `envconfig:"REFERENCE_TZ" default:"America/Los_Angeles"`
	CallTimeout           time.Duration `envconfig:"PROVIDER_CALL_TIMEOUT" default:"10s"`
	ProviderAttempts      int           `envconfig:"PROVIDER_ATTEMPTS" default:"3"`
	SettleDelay           time.Duration `envconfig:"SCHEDULE_SETTLE_DELAY" default:"500ms"`
	ScheduleReadyAttempts int           `envconfig:"SCHEDULE_READY_ATTEMPTS" default:"5"`

	PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
}

func (c SchedulerConfig) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("BATCH_SIZE must be > 0, got %d", c.BatchSize)
	case c.ProviderAttempts <= 0:
		return fmt.Errorf("PROVIDER_ATTEMPTS must be > 0, got %d", c.ProviderAttempts)
	case c.ScheduleReadyAttempts <= 0:
		return fmt.Errorf("SCHEDULE_READY_ATTEMPTS must be > 0, got %d", c.ScheduleReadyAttempts)
	case c.MailchimpRPS <= 0:
		return fmt.Errorf("MAILCHIMP_RPS must be > 0, got %v", c.MailchimpRPS)
	}
	return nil
}

type MockProviderConfig struct {
	Port          string        `envconfig:"PORT" default:"8089"`
	LogFormat     string        `envconfig:"LOG_FORMAT" default:"json"`
	APIKey        string        `envconfig:"MOCK_API_KEY"`
	NotReadyFor   time.Duration `envconfig:"MOCK_NOT_READY_FOR" default:"300ms"`
	Delay         time.Duration `envconfig:"MOCK_DELAY" default:"0s"`
	FailListIDs   []string      `envconfig:"MOCK_FAIL_LIST_IDS"`
	ThrottleEvery int           `envconfig:"MOCK_THROTTLE_EVERY" default:"0"`
}

func LoadScheduler() (SchedulerConfig, error) {
	var cfg SchedulerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func LoadMockProvider() (MockProviderConfig, error) {
	var cfg MockProviderConfig
	err := envconfig.Process("", &cfg)
	return cfg, err
}
