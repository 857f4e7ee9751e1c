package pipeline

import (
	"context"

	"launchsched/internal/domain"
)

// persistCampaignID writes the campaign id back onto the user record.
func (p *Pipeline) persistCampaignID(ctx context.Context, userID, campaignID string) error {
	return p.withTimeout(ctx, func(ctx context.Context) error {
		_, err := p.Records.PersistCampaignID(ctx, userID, campaignID)
		if err != nil && !domain.IsKind(err, domain.KindPersistence) {
			err = domain.PersistenceError(err)
		}
		return err
	})
}

func (p *Pipeline) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	defer cancel()
	return fn(callCtx)
}
