package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"launchsched/internal/awsutil"
	"launchsched/internal/config"
	"launchsched/internal/logging"
	"launchsched/internal/observability"
	"launchsched/internal/orchestrator"
	"launchsched/internal/pipeline"
	"launchsched/internal/providers/mailchimp"
	sqsqueue "launchsched/internal/queue/sqs"
	"launchsched/internal/sendtime"
	"launchsched/internal/store/dynamo"
	"launchsched/internal/store/pg"
	"launchsched/internal/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadScheduler()
	if err != nil {
		logging.Init("scheduler", "json")
		slog.Error("scheduler config load failed", "err", err)
		return 1
	}
	log := logging.Init("scheduler", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	times, err := sendtime.NewResolver(cfg.ReferenceTZ)
	if err != nil {
		log.Error("reference time zone invalid", "zone", cfg.ReferenceTZ, "err", err)
		return 1
	}

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{MaxConns: cfg.DBMaxConns, ConnectTimeout: 5 * time.Second})
	if err != nil {
		log.Error("scheduler db connect failed", "err", err)
		return 1
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		log.Error("db not reachable", "err", err)
		return 1
	}

	awsCfg, err := awsutil.LoadConfig(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		log.Error("aws config load failed", "err", err)
		return 1
	}
	users := dynamo.New(awsutil.NewDynamoDBClient(awsCfg, cfg.LocalstackEndpoint), cfg.UsersTable)
	content := pg.New(db)

	runID := util.NewRunID()
	reg := prometheus.NewRegistry()
	observability.Register(reg)

	p := &pipeline.Pipeline{
		Sessions: pipeline.MailchimpSessions(&mailchimp.Client{
			HTTP:    &http.Client{Timeout: cfg.CallTimeout + 2*time.Second},
			BaseURL: cfg.MailchimpBaseURL,
		}),
		Records:       users,
		Content:       content,
		Times:         times,
		Limiter:       rate.NewLimiter(rate.Limit(cfg.MailchimpRPS), cfg.MailchimpBurst),
		Breaker:       pipeline.NewBreaker("mailchimp"),
		Log:           log,
		RunID:         runID,
		CampaignTitle: cfg.CampaignTitle,
		CallTimeout:   cfg.CallTimeout,
		Attempts:      cfg.ProviderAttempts,
		SettleDelay:   cfg.SettleDelay,
		ReadyAttempts: cfg.ScheduleReadyAttempts,
	}
	if cfg.SQSQueueURL != "" {
		p.Events = &sqsqueue.Producer{
			SQS:      awsutil.NewSQSClient(awsCfg, cfg.LocalstackEndpoint),
			QueueURL: cfg.SQSQueueURL,
		}
	}

	o := &orchestrator.Orchestrator{
		Users:     users,
		Events:    content,
		Pipeline:  p,
		BatchSize: cfg.BatchSize,
		RunID:     runID,
		Log:       log,
	}

	start := time.Now()
	log.Info("scheduler run start", "run_id", runID, "batch_size", cfg.BatchSize, "users_table", cfg.UsersTable)
	report, runErr := o.Run(ctx)
	log.Info("scheduler run finish", "report", report, "duration", time.Since(start))

	if cfg.PushgatewayURL != "" {
		pushCtx, pushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := observability.Push(pushCtx, cfg.PushgatewayURL, "launchsched", reg); err != nil {
			log.Warn("metrics push failed", "url", cfg.PushgatewayURL, "err", err)
		}
		pushCancel()
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		log.Warn("scheduler run cancelled", "run_id", runID)
		return 1
	case runErr != nil:
		log.Error("scheduler run failed", "run_id", runID, "err", runErr)
		return 1
	}
	return 0
}
