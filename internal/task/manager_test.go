package task

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

// fakeHost records deliveries and answers every query with a fixed
// response.
type fakeHost struct {
	mu      sync.Mutex
	queries []string
	sent    []string
	deliver chan string
}

func newFakeHost() *fakeHost {
	return &fakeHost{deliver: make(chan string, 16)}
}

func (h *fakeHost) SendMessage(conversationID, text string) error {
	h.mu.Lock()
	h.sent = append(h.sent, text)
	h.mu.Unlock()
	select {
	case h.deliver <- text:
	default:
	}
	return nil
}

func (h *fakeHost) Query(ctx context.Context, userID, prompt, conversationID string) (string, error) {
	h.mu.Lock()
	h.queries = append(h.queries, prompt)
	h.mu.Unlock()
	return "answer to " + prompt, nil
}

func testLimits() Limits {
	return Limits{QuotaPerUser: 3, MinTitle: 3, MaxTitle: 40, MaxDuration: time.Hour}
}

func newTestManager(t *testing.T) (*Manager, *fakeHost) {
	t.Helper()
	m := NewManager(newTestStore(t), testLimits(), nil)
	h := newFakeHost()
	m.Bind(h)
	t.Cleanup(m.Close)
	return m, h
}

func validConfig() Config {
	return Config{
		UserID:         "u1",
		ConversationID: "c1",
		Prompt:         "check the news",
		Title:          "news check",
		Duration:       time.Minute,
		Interval:       time.Second,
	}
}

func TestStartValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		reason Reason
	}{
		{"zero duration", func(c *Config) { c.Duration = 0 }, ReasonBadDuration},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }, ReasonBadDuration},
		{"duration over cap", func(c *Config) { c.Duration = 2 * time.Hour }, ReasonBadDuration},
		{"zero interval", func(c *Config) { c.Interval = 0 }, ReasonBadInterval},
		{"interval longer than duration", func(c *Config) { c.Interval = 2 * time.Minute }, ReasonBadInterval},
		{"title too short", func(c *Config) { c.Title = "ab" }, ReasonTitleLength},
		{"title too long", func(c *Config) { c.Title = strings.Repeat("x", 41) }, ReasonTitleLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t)
			cfg := validConfig()
			tt.mutate(&cfg)

			_, err := m.Start(cfg)
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("got %v, want a ValidationError", err)
			}
			if verr.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", verr.Reason, tt.reason)
			}
			if len(m.List("")) != 0 {
				t.Error("rejected task left bookkeeping behind")
			}
		})
	}
}

func TestStartRejectsDuplicates(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Start(validConfig()); err != nil {
		t.Fatalf("first start: %v", err)
	}

	// Same title, same user.
	dup := validConfig()
	dup.Prompt = "different prompt"
	_, err := m.Start(dup)
	if verr, ok := err.(*ValidationError); !ok || verr.Reason != ReasonDuplicateTitle {
		t.Fatalf("duplicate title: got %v", err)
	}

	// Same prompt in the same conversation, different title.
	dup = validConfig()
	dup.Title = "other title"
	_, err = m.Start(dup)
	if verr, ok := err.(*ValidationError); !ok || verr.Reason != ReasonDuplicatePrompt {
		t.Fatalf("duplicate prompt: got %v", err)
	}

	// Same title for a different user is fine.
	other := validConfig()
	other.UserID = "u2"
	if _, err := m.Start(other); err != nil {
		t.Fatalf("other user blocked: %v", err)
	}
}

func TestStartEnforcesQuota(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		cfg := validConfig()
		cfg.Title = cfg.Title + strings.Repeat("!", i+1)
		cfg.Prompt = cfg.Prompt + strings.Repeat("!", i+1)
		if _, err := m.Start(cfg); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}

	over := validConfig()
	over.Title = "one too many"
	over.Prompt = "something else entirely"
	_, err := m.Start(over)
	if verr, ok := err.(*ValidationError); !ok || verr.Reason != ReasonQuotaExceeded {
		t.Fatalf("got %v, want quota error", err)
	}
}

func TestStartPersistsJob(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, testLimits(), nil)
	m.Bind(newFakeHost())
	t.Cleanup(m.Close)

	jobID, err := m.Start(validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	jobs, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != jobID {
		t.Fatalf("persisted jobs = %+v", jobs)
	}
	if jobs[0].Config.Prompt != "check the news" {
		t.Errorf("config round-trip lost the prompt: %+v", jobs[0].Config)
	}
}

func TestStopRemovesEverything(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, testLimits(), nil)
	m.Bind(newFakeHost())
	t.Cleanup(m.Close)

	jobID, err := m.Start(validConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Stop(jobID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(m.List("")) != 0 {
		t.Error("bookkeeping entry survived stop")
	}
	jobs, _ := store.List()
	if len(jobs) != 0 {
		t.Error("persisted record survived stop")
	}

	// Stopping again reports the unknown id.
	if err := m.Stop(jobID); err == nil {
		t.Error("second stop succeeded, want error")
	}
}

func TestJobFiresAndDelivers(t *testing.T) {
	m, h := newTestManager(t)

	cfg := validConfig()
	cfg.Interval = 20 * time.Millisecond
	cfg.Duration = 10 * time.Second
	jobID, err := m.Start(cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case got := <-h.deliver:
		if got != "answer to check the news" {
			t.Fatalf("delivered %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}

	if err := m.Stop(jobID); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestJobExpiryNotifies(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, testLimits(), nil)
	h := newFakeHost()
	m.Bind(h)
	t.Cleanup(m.Close)

	cfg := validConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.Duration = 40 * time.Millisecond
	if _, err := m.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.deliver:
			if strings.Contains(got, "finished") {
				if len(m.List("")) != 0 {
					t.Error("expired job still listed")
				}
				jobs, _ := store.List()
				if len(jobs) != 0 {
					t.Error("expired job still persisted")
				}
				return
			}
		case <-deadline:
			t.Fatal("expiry notification never arrived")
		}
	}
}

func TestRecovery(t *testing.T) {
	store := newTestStore(t)

	// One job has lifetime left, one expired while the process was down.
	live := &Job{ID: NewID(), StartedAt: time.Now().Add(-time.Minute), Config: Config{
		UserID: "u1", ConversationID: "c1", Prompt: "still running",
		Title: "live job", Duration: time.Hour, Interval: time.Minute,
	}}
	dead := &Job{ID: NewID(), StartedAt: time.Now().Add(-2 * time.Hour), Config: Config{
		UserID: "u1", ConversationID: "c1", Prompt: "long gone",
		Title: "dead job", Duration: time.Hour, Interval: time.Minute,
	}}
	for _, j := range []*Job{live, dead} {
		if err := store.Create(j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	m := NewManager(store, testLimits(), nil)
	m.Bind(newFakeHost())
	t.Cleanup(m.Close)
	if err := m.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	infos := m.List("")
	if len(infos) != 1 || infos[0].JobID != live.ID {
		t.Fatalf("recovered jobs = %+v", infos)
	}
	jobs, _ := store.List()
	if len(jobs) != 1 || jobs[0].ID != live.ID {
		t.Fatalf("persisted jobs after recovery = %+v", jobs)
	}
}

func TestCloseKeepsRecords(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, testLimits(), nil)
	m.Bind(newFakeHost())

	if _, err := m.Start(validConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Close()

	if len(m.List("")) != 0 {
		t.Error("runtime bookkeeping survived close")
	}
	jobs, _ := store.List()
	if len(jobs) != 1 {
		t.Error("close deleted the persisted record; jobs must survive restarts")
	}
}

func TestListFiltersByUser(t *testing.T) {
	m, _ := newTestManager(t)

	a := validConfig()
	b := validConfig()
	b.UserID = "u2"
	b.Title = "second user job"
	if _, err := m.Start(a); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(b); err != nil {
		t.Fatal(err)
	}

	if got := len(m.List("u1")); got != 1 {
		t.Errorf("u1 sees %d jobs, want 1", got)
	}
	if got := len(m.List("")); got != 2 {
		t.Errorf("unfiltered list has %d jobs, want 2", got)
	}
}
