package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"launchsched/internal/domain"
	"launchsched/internal/logging"
	"launchsched/internal/mockprovider"
	"launchsched/internal/pipeline"
	"launchsched/internal/providers/mailchimp"
	"launchsched/internal/sendtime"
)

type staticUsers struct {
	users []domain.UserRecord
	err   error
}

func (s staticUsers) Scan(ctx context.Context) ([]domain.UserRecord, error) { return s.users, s.err }

type staticEvent struct {
	ev  domain.LaunchEvent
	err error
}

func (s staticEvent) FindNextLaunchEvent(ctx context.Context, now time.Time) (domain.LaunchEvent, error) {
	return s.ev, s.err
}

// trackingRunner records concurrency and ordering of pipeline runs.
type trackingRunner struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	finished    int
	violations  []string
	started     []string
	batchSize   int
	fail        map[string]error
	panicOn     string
}

func (r *trackingRunner) Run(ctx context.Context, user domain.UserRecord, ev domain.LaunchEvent) domain.Outcome {
	var idx int
	fmt.Sscanf(user.UserID, "u%d", &idx)

	r.mu.Lock()
	// every user of earlier batches must have settled before this one starts
	if need := (idx / r.batchSize) * r.batchSize; r.finished < need {
		r.violations = append(r.violations, fmt.Sprintf("%s started with %d finished, need %d", user.UserID, r.finished, need))
	}
	r.started = append(r.started, user.UserID)
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()

	time.Sleep(time.Duration(5+(idx*7)%11) * time.Millisecond)

	r.mu.Lock()
	r.inFlight--
	r.finished++
	r.mu.Unlock()

	if user.UserID == r.panicOn {
		panic("boom")
	}
	if err := r.fail[user.UserID]; err != nil {
		return domain.Outcome{UserID: user.UserID, Stage: domain.StageCreate, Err: err}
	}
	return domain.Outcome{UserID: user.UserID, Stage: domain.StageDone}
}

func makeUsers(n int) []domain.UserRecord {
	users := make([]domain.UserRecord, n)
	for i := range users {
		users[i] = domain.UserRecord{
			UserID:       fmt.Sprintf("u%d", i),
			FirstName:    "User",
			LastName:     fmt.Sprint(i),
			EmailAddress: fmt.Sprintf("u%d@example.com", i),
			APIKey:       "key-us6",
			ListID:       fmt.Sprintf("list-%d", i),
			TemplateID:   1,
		}
	}
	return users
}

func testEvent() domain.LaunchEvent {
	return domain.LaunchEvent{ID: "le1", LaunchDate: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), DefaultNewsletter: "spring"}
}

func TestPartition(t *testing.T) {
	cases := []struct {
		n    int
		want []int
	}{
		{0, nil},
		{3, []int{3}},
		{10, []int{5, 5}},
		{12, []int{5, 5, 2}},
	}
	for _, c := range cases {
		got := Partition(makeUsers(c.n), 5)
		if len(got) != len(c.want) {
			t.Fatalf("n=%d: %d batches, want %d", c.n, len(got), len(c.want))
		}
		seen := 0
		for i, b := range got {
			if len(b) != c.want[i] {
				t.Fatalf("n=%d: batch %d size %d, want %d", c.n, i, len(b), c.want[i])
			}
			for _, u := range b {
				if u.UserID != fmt.Sprintf("u%d", seen) {
					t.Fatalf("n=%d: order broken at %s", c.n, u.UserID)
				}
				seen++
			}
		}
	}
}

func TestRunBatchesSettleInOrderWithFailureIsolation(t *testing.T) {
	runner := &trackingRunner{
		batchSize: 5,
		fail:      map[string]error{"u6": domain.ProviderError(errors.New("rejected"))},
	}
	var mu sync.Mutex
	var transitions []string
	o := &Orchestrator{
		Users:     staticUsers{users: makeUsers(12)},
		Events:    staticEvent{ev: testEvent()},
		Pipeline:  runner,
		BatchSize: 5,
		RunID:     "run_test",
		Log:       logging.Discard(),
		OnBatch: func(i int, s BatchState) {
			mu.Lock()
			transitions = append(transitions, fmt.Sprintf("%d:%s", i, s))
			mu.Unlock()
		},
	}

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fmt.Sprint(report.Batches) != "[5 5 2]" {
		t.Fatalf("batches = %v", report.Batches)
	}
	if report.Attempted() != 12 || report.Scheduled() != 11 || report.Failed() != 1 {
		t.Fatalf("attempted=%d scheduled=%d failed=%d", report.Attempted(), report.Scheduled(), report.Failed())
	}
	if report.FailedByStage()[domain.StageCreate] != 1 {
		t.Fatalf("failed by stage = %v", report.FailedByStage())
	}
	for _, out := range report.Outcomes[7:] {
		if !out.Scheduled() {
			t.Fatalf("user after the failure did not complete: %+v", out)
		}
	}
	if len(runner.violations) > 0 {
		t.Fatalf("batch overlap: %v", runner.violations)
	}
	if runner.maxInFlight > 5 {
		t.Fatalf("max in flight = %d", runner.maxInFlight)
	}
	want := "[0:pending 0:in_flight 0:settled 1:pending 1:in_flight 1:settled 2:pending 2:in_flight 2:settled]"
	if got := fmt.Sprint(transitions); got != want {
		t.Fatalf("transitions = %s", got)
	}
}

func TestRunUserFetchIsFatal(t *testing.T) {
	runner := &trackingRunner{batchSize: 5}
	o := &Orchestrator{
		Users:    staticUsers{err: errors.New("table unreachable")},
		Events:   staticEvent{ev: testEvent()},
		Pipeline: runner,
		Log:      logging.Discard(),
	}
	_, err := o.Run(context.Background())
	if !domain.IsKind(err, domain.KindFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if len(runner.started) != 0 {
		t.Fatalf("no pipeline may start")
	}
}

func TestRunLaunchEventIsFatal(t *testing.T) {
	runner := &trackingRunner{batchSize: 5}
	o := &Orchestrator{
		Users:    staticUsers{users: makeUsers(3)},
		Events:   staticEvent{err: domain.FetchError(errors.New("no upcoming launch event"))},
		Pipeline: runner,
		Log:      logging.Discard(),
	}
	_, err := o.Run(context.Background())
	if !domain.IsKind(err, domain.KindFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if len(runner.started) != 0 {
		t.Fatalf("no pipeline may start")
	}
}

func TestRunStopsDispatchingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &trackingRunner{batchSize: 5}
	o := &Orchestrator{
		Users:     staticUsers{users: makeUsers(12)},
		Events:    staticEvent{ev: testEvent()},
		Pipeline:  runner,
		BatchSize: 5,
		Log:       logging.Discard(),
		OnBatch: func(i int, s BatchState) {
			if i == 0 && s == BatchSettled {
				cancel()
			}
		},
	}
	report, err := o.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Attempted() != 5 || len(runner.started) != 5 {
		t.Fatalf("attempted=%d started=%d, want 5", report.Attempted(), len(runner.started))
	}
}

func TestRunRecoversPipelinePanic(t *testing.T) {
	runner := &trackingRunner{batchSize: 5, panicOn: "u2"}
	o := &Orchestrator{
		Users:    staticUsers{users: makeUsers(5)},
		Events:   staticEvent{ev: testEvent()},
		Pipeline: runner,
		Log:      logging.Discard(),
	}
	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Scheduled() != 4 || report.Outcomes[2].Err == nil {
		t.Fatalf("panic not isolated: %+v", report.Outcomes)
	}
}

type capturingEvent struct {
	staticEvent
	seen *time.Time
}

func (c capturingEvent) FindNextLaunchEvent(ctx context.Context, now time.Time) (domain.LaunchEvent, error) {
	*c.seen = now
	return c.staticEvent.FindNextLaunchEvent(ctx, now)
}

func TestRunLooksUpLaunchEventInUTC(t *testing.T) {
	var seen time.Time
	o := &Orchestrator{
		Users:    staticUsers{users: makeUsers(1)},
		Events:   capturingEvent{staticEvent: staticEvent{ev: testEvent()}, seen: &seen},
		Pipeline: &trackingRunner{batchSize: 5},
		Log:      logging.Discard(),
	}
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if seen.IsZero() || seen.Location() != time.UTC {
		t.Fatalf("launch event looked up with %v, want a UTC instant", seen)
	}
}

type memRecords struct {
	mu    sync.Mutex
	saved map[string]string
}

func (m *memRecords) PersistCampaignID(ctx context.Context, userID, campaignID string) (domain.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[userID] = campaignID
	return domain.UserRecord{UserID: userID, CampaignID: campaignID}, nil
}

type defaultContent struct{}

func (defaultContent) GetUserNewsletter(ctx context.Context, user domain.UserRecord, defaultKey string) (domain.ContentAssignment, error) {
	return domain.ContentAssignment{NewsletterKey: defaultKey, Subject: "News", Sections: map[string]string{"body": "hi"}}, nil
}

func TestEndToEndAgainstMockProvider(t *testing.T) {
	users := makeUsers(12)
	users[6].ListID = "deleted-audience"
	one := 1
	for i := range users {
		users[i].DelayDays = &one
		users[i].DelayTime = "0930"
	}

	mock := mockprovider.New(mockprovider.Config{FailListIDs: []string{"deleted-audience"}, NotReadyFor: 10 * time.Millisecond})
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	records := &memRecords{saved: map[string]string{}}
	p := &pipeline.Pipeline{
		Sessions:      pipeline.MailchimpSessions(&mailchimp.Client{HTTP: srv.Client(), BaseURL: srv.URL}),
		Records:       records,
		Content:       defaultContent{},
		Times:         sendtime.MustResolver(sendtime.DefaultZone),
		Breaker:       pipeline.NewBreaker("mailchimp-e2e"),
		Log:           logging.Discard(),
		CallTimeout:   2 * time.Second,
		Attempts:      3,
		SettleDelay:   5 * time.Millisecond,
		ReadyAttempts: 20,
	}
	o := &Orchestrator{
		Users:     staticUsers{users: users},
		Events:    staticEvent{ev: testEvent()},
		Pipeline:  p,
		BatchSize: 5,
		Log:       logging.Discard(),
	}

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Attempted() != 12 || report.Scheduled() != 11 {
		t.Fatalf("attempted=%d scheduled=%d: %v", report.Attempted(), report.Scheduled(), report.FailedByStage())
	}
	if out := report.Outcomes[6]; out.Stage != domain.StageCreate || !domain.IsKind(out.Err, domain.KindProvider) {
		t.Fatalf("user #7 outcome = %+v", out)
	}
	want := time.Date(2024, 3, 10, 16, 30, 0, 0, time.UTC)
	for _, out := range report.Outcomes[7:] {
		c, ok := mock.Campaign(out.CampaignID)
		if !ok || !c.ScheduleTime.Equal(want) {
			t.Fatalf("user %s not scheduled at %s: %+v", out.UserID, want, c)
		}
		if records.saved[out.UserID] != out.CampaignID {
			t.Fatalf("user %s campaign id not persisted", out.UserID)
		}
	}
	if len(mock.Campaigns()) != 11 {
		t.Fatalf("provider holds %d campaigns, want 11", len(mock.Campaigns()))
	}
}
