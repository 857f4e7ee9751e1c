// Package mockprovider is a small in-memory stand-in for the Mailchimp
// campaigns API, used for local runs and tests.
package mockprovider

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
)

type Config struct {
	// APIKey, when set, is the only password accepted in basic auth.
	APIKey string
	// NotReadyFor is how long after a content update schedule requests are refused.
	NotReadyFor time.Duration
	// Delay is added to every response.
	Delay time.Duration
	// FailListIDs makes campaign creation fail for these audiences.
	FailListIDs []string
	// ThrottleEvery answers every Nth request with 429 (0 disables).
	ThrottleEvery int
}

type Campaign struct {
	ID           string
	ListID       string
	Settings     map[string]any
	Content      json.RawMessage
	ContentAt    time.Time
	ScheduleTime time.Time
	Status       string
}

type Server struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	campaigns map[string]*Campaign
	requests  uint64
}

func New(cfg Config) *Server {
	return &Server{cfg: cfg, now: time.Now, campaigns: map[string]*Campaign{}}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/campaigns", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/campaigns/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id}", s.handleUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/campaigns/{id}/content", s.handleContent).Methods(http.MethodPut)
	r.HandleFunc("/campaigns/{id}/actions/schedule", s.handleSchedule).Methods(http.MethodPost)
	r.Use(s.gate)
	return Logging(r)
}

// Campaign returns a copy of the stored campaign.
func (s *Server) Campaign(id string) (Campaign, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return Campaign{}, false
	}
	return *c, true
}

func (s *Server) Campaigns() []Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, *c)
	}
	return out
}

func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.cfg.Delay):
			}
		}
		_, key, ok := r.BasicAuth()
		if !ok || key == "" || (s.cfg.APIKey != "" && key != s.cfg.APIKey) {
			writeProblem(w, http.StatusUnauthorized, "API Key Invalid", "Your API key may be invalid, or you've attempted to access the wrong datacenter.")
			return
		}
		n := atomic.AddUint64(&s.requests, 1)
		if s.cfg.ThrottleEvery > 0 && n%uint64(s.cfg.ThrottleEvery) == 0 {
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "You have exceeded the limit of 10 simultaneous connections.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type       string `json:"type"`
		Recipients struct {
			ListID string `json:"list_id"`
		} `json:"recipients"`
		Settings map[string]any `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}
	if in.Recipients.ListID == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "recipients.list_id is required.")
		return
	}
	for _, id := range s.cfg.FailListIDs {
		if id == in.Recipients.ListID {
			writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The requested audience does not exist.")
			return
		}
	}

	c := &Campaign{
		ID:       strings.ToLower(ulid.Make().String()[16:]),
		ListID:   in.Recipients.ListID,
		Settings: in.Settings,
		Status:   "save",
	}
	s.mu.Lock()
	s.campaigns[c.ID] = c
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          c.ID,
		"type":        in.Type,
		"status":      c.Status,
		"create_time": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.Campaign(mux.Vars(r)["id"])
	if !ok {
		writeProblem(w, http.StatusNotFound, "Resource Not Found", "The requested resource could not be found.")
		return
	}
	out := map[string]any{"id": c.ID, "status": c.Status, "settings": c.Settings}
	if !c.ScheduleTime.IsZero() {
		out["send_time"] = c.ScheduleTime.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Settings map[string]any `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}
	s.mu.Lock()
	c, ok := s.campaigns[mux.Vars(r)["id"]]
	if ok {
		if c.Settings == nil {
			c.Settings = map[string]any{}
		}
		for k, v := range in.Settings {
			c.Settings[k] = v
		}
	}
	s.mu.Unlock()
	if !ok {
		writeProblem(w, http.StatusNotFound, "Resource Not Found", "The requested resource could not be found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": c.ID})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}
	s.mu.Lock()
	c, ok := s.campaigns[mux.Vars(r)["id"]]
	if ok {
		c.Content = raw
		c.ContentAt = s.now()
	}
	s.mu.Unlock()
	if !ok {
		writeProblem(w, http.StatusNotFound, "Resource Not Found", "The requested resource could not be found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plain_text": ""})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ScheduleTime string `json:"schedule_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}
	at, err := time.Parse(time.RFC3339, in.ScheduleTime)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "schedule_time must be an ISO 8601 time with a zone offset.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[mux.Vars(r)["id"]]
	switch {
	case !ok:
		writeProblem(w, http.StatusNotFound, "Resource Not Found", "The requested resource could not be found.")
		return
	case c.Content == nil:
		writeProblem(w, http.StatusBadRequest, "Bad Request", "This campaign has no content.")
		return
	case s.now().Before(c.ContentAt.Add(s.cfg.NotReadyFor)):
		writeProblem(w, http.StatusBadRequest, "Bad Request", "This campaign is not ready to send yet.")
		return
	}
	c.ScheduleTime = at
	c.Status = "schedule"
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://mailchimp.com/developer/marketing/docs/errors/",
		"title":  title,
		"status": status,
		"detail": detail,
	})
}
