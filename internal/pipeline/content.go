package pipeline

import (
	"context"

	"launchsched/internal/domain"
	"launchsched/internal/providers/mailchimp"
)

// populateContent pushes the resolved newsletter into the campaign. On
// failure the campaign stays on the provider unscheduled.
func (p *Pipeline) populateContent(ctx context.Context, sess Session, user domain.UserRecord) error {
	err := p.call(ctx, "update_settings", func(ctx context.Context) error {
		return sess.UpdateSettings(ctx, user.CampaignID, mailchimp.Settings{SubjectLine: user.Subject})
	})
	if err != nil {
		return domain.ProviderError(err)
	}

	req := mailchimp.ContentRequest{Template: mailchimp.TemplateContent{
		ID:       user.TemplateID,
		Sections: user.Newsletter.Sections,
	}}
	err = p.call(ctx, "set_content", func(ctx context.Context) error {
		return sess.SetContent(ctx, user.CampaignID, req)
	})
	if err != nil {
		return domain.ProviderError(err)
	}
	return nil
}
