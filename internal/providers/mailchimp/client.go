package mailchimp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"launchsched/internal/sendtime"
)

var (
	ErrMissingAPIKey = errors.New("mailchimp: missing api key")
	ErrInvalidAPIKey = errors.New("mailchimp: api key has no datacenter suffix")
	ErrNotReady      = errors.New("mailchimp: campaign not ready to schedule")
)

// Client builds per-user sessions. BaseURL overrides the datacenter host
// derived from the api key (mock provider, tests).
type Client struct {
	HTTP    *http.Client
	BaseURL string
}

// Session is one user's credentialed view of the API. Sessions are not shared
// between users.
type Session struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func (c *Client) Session(apiKey string) (*Session, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		dc := Datacenter(key)
		if dc == "" {
			return nil, ErrInvalidAPIKey
		}
		base = "https://" + dc + ".api.mailchimp.com/3.0"
	}
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Session{apiKey: key, baseURL: base, http: hc}, nil
}

// Datacenter returns the "us6" part of "<key>-us6".
func Datacenter(apiKey string) string {
	i := strings.LastIndex(apiKey, "-")
	if i < 0 || i == len(apiKey)-1 {
		return ""
	}
	return apiKey[i+1:]
}

type Recipients struct {
	ListID string `json:"list_id"`
}

type Settings struct {
	SubjectLine string `json:"subject_line,omitempty"`
	Title       string `json:"title,omitempty"`
	FromName    string `json:"from_name,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
	TemplateID  int    `json:"template_id,omitempty"`
}

type CreateCampaignRequest struct {
	Type       string     `json:"type"`
	Recipients Recipients `json:"recipients"`
	Settings   Settings   `json:"settings"`
}

type Campaign struct {
	ID         string `json:"id"`
	WebID      int    `json:"web_id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	CreateTime string `json:"create_time"`
	SendTime   string `json:"send_time"`
}

type TemplateContent struct {
	ID       int               `json:"id"`
	Sections map[string]string `json:"sections,omitempty"`
}

type ContentRequest struct {
	Template TemplateContent `json:"template"`
}

type scheduleRequest struct {
	ScheduleTime string `json:"schedule_time"`
}

// Confirmation is what the provider acknowledged for a schedule request.
type Confirmation struct {
	CampaignID   string
	ScheduleTime string
	HTTPStatus   int
}

func (s *Session) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (Campaign, error) {
	if req.Type == "" {
		req.Type = "regular"
	}
	var out Campaign
	if _, err := s.do(ctx, http.MethodPost, "/campaigns", req, &out); err != nil {
		return Campaign{}, err
	}
	if out.ID == "" {
		return Campaign{}, errors.New("mailchimp: create campaign returned no id")
	}
	return out, nil
}

func (s *Session) UpdateSettings(ctx context.Context, campaignID string, settings Settings) error {
	_, err := s.do(ctx, http.MethodPatch, "/campaigns/"+url.PathEscape(campaignID), map[string]any{"settings": settings}, nil)
	return err
}

func (s *Session) SetContent(ctx context.Context, campaignID string, req ContentRequest) error {
	_, err := s.do(ctx, http.MethodPut, "/campaigns/"+url.PathEscape(campaignID)+"/content", req, nil)
	return err
}

// Schedule asks the provider to send the campaign at the given instant.
// A campaign still digesting its content yields an error matching ErrNotReady.
func (s *Session) Schedule(ctx context.Context, campaignID string, at time.Time) (Confirmation, error) {
	body := scheduleRequest{ScheduleTime: sendtime.Format(at)}
	status, err := s.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(campaignID)+"/actions/schedule", body, nil)
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{CampaignID: campaignID, ScheduleTime: body.ScheduleTime, HTTPStatus: status}, nil
}

func (s *Session) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth("anystring", s.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Raw: raw}
		_ = json.Unmarshal(raw, apiErr)
		return resp.StatusCode, apiErr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("mailchimp: decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// APIError is a non-2xx answer in the provider's problem-document shape.
type APIError struct {
	StatusCode int    `json:"status"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Raw        []byte `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Title
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("mailchimp: http %d: %s", e.StatusCode, msg)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotReady && e.notReady()
}

func (e *APIError) notReady() bool {
	if e.StatusCode != http.StatusBadRequest {
		return false
	}
	return strings.Contains(strings.ToLower(e.Detail), "not ready") ||
		strings.EqualFold(e.Title, "Campaign Not Ready")
}

// StatusCode extracts the HTTP status of a failed call, 0 for transport errors.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ShouldRetry reports whether err is transient (timeouts, throttling, 5xx).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	status := StatusCode(err)
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return true
	}
	return status >= 500 && status <= 599
}

func Backoff(attempt int) time.Duration {
	// 200ms, 600ms, 1400ms
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
