package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"launchsched/internal/domain"
)

var ErrNoLaunchEvent = errors.New("no upcoming launch event")

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// FindNextLaunchEvent returns the earliest launch event on or after now's date.
func (s *Store) FindNextLaunchEvent(ctx context.Context, now time.Time) (domain.LaunchEvent, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	row := s.DB.QueryRow(ctx, `
		SELECT id, launch_date, default_newsletter
		FROM launch_events
		WHERE launch_date >= $1
		ORDER BY launch_date ASC
		LIMIT 1
	`, day)

	var ev domain.LaunchEvent
	if err := row.Scan(&ev.ID, &ev.LaunchDate, &ev.DefaultNewsletter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LaunchEvent{}, domain.FetchError(ErrNoLaunchEvent)
		}
		return domain.LaunchEvent{}, domain.FetchError(fmt.Errorf("find next launch event: %w", err))
	}
	return ev, nil
}

// GetUserNewsletter resolves the user's assigned newsletter, falling back to defaultKey.
func (s *Store) GetUserNewsletter(ctx context.Context, user domain.UserRecord, defaultKey string) (domain.ContentAssignment, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT n.key, n.subject, n.sections_json
		FROM newsletters n
		WHERE n.key = COALESCE(
			(SELECT newsletter_key FROM user_newsletters WHERE user_id = $1),
			$2
		)
	`, user.UserID, defaultKey)

	var out domain.ContentAssignment
	var sections []byte
	if err := row.Scan(&out.NewsletterKey, &out.Subject, &sections); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ContentAssignment{}, domain.FetchError(fmt.Errorf("newsletter for user %s (default %q) not found", user.UserID, defaultKey))
		}
		return domain.ContentAssignment{}, domain.FetchError(fmt.Errorf("get user newsletter: %w", err))
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &out.Sections); err != nil {
			return domain.ContentAssignment{}, domain.FetchError(fmt.Errorf("decode newsletter %s sections: %w", out.NewsletterKey, err))
		}
	}
	return out, nil
}
