package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"launchsched/internal/domain"
	"launchsched/internal/providers/mailchimp"
)

// schedule waits for the provider to digest the new content, then asks it to
// send at the given instant. "Not ready" answers are retried after another
// settle delay, up to ReadyAttempts times.
func (p *Pipeline) schedule(ctx context.Context, sess Session, campaignID string, at time.Time) (mailchimp.Confirmation, error) {
	attempts := p.ReadyAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var conf mailchimp.Confirmation
	var err error
	for i := 0; i < attempts; i++ {
		if err := sleep(ctx, p.SettleDelay); err != nil {
			return mailchimp.Confirmation{}, domain.ProviderError(err)
		}
		err = p.call(ctx, "schedule", func(ctx context.Context) error {
			var callErr error
			conf, callErr = sess.Schedule(ctx, campaignID, at)
			return callErr
		})
		if err == nil {
			return conf, nil
		}
		if !errors.Is(err, mailchimp.ErrNotReady) {
			return mailchimp.Confirmation{}, domain.ProviderError(err)
		}
		p.logger().Debug("campaign not ready to schedule", "run_id", p.RunID, "campaign_id", campaignID, "attempt", i+1)
	}
	return mailchimp.Confirmation{}, domain.ProviderError(fmt.Errorf("campaign %s not ready after %d attempts: %w", campaignID, attempts, err))
}
