package pipeline

import (
	"context"

	"launchsched/internal/domain"
	"launchsched/internal/providers/mailchimp"
)

func (p *Pipeline) createCampaign(ctx context.Context, sess Session, user domain.UserRecord) (string, error) {
	req := mailchimp.CreateCampaignRequest{
		Type:       "regular",
		Recipients: mailchimp.Recipients{ListID: user.ListID},
		Settings: mailchimp.Settings{
			SubjectLine: user.Subject,
			Title:       p.CampaignTitle,
			FromName:    user.FromName(),
			ReplyTo:     user.EmailAddress,
			TemplateID:  user.TemplateID,
		},
	}
	var camp mailchimp.Campaign
	err := p.call(ctx, "create_campaign", func(ctx context.Context) error {
		var err error
		camp, err = sess.CreateCampaign(ctx, req)
		return err
	})
	if err != nil {
		return "", domain.ProviderError(err)
	}
	return camp.ID, nil
}
