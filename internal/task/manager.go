package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager owns the live timers for all active jobs and keeps the
// persisted records in step with them.
type Manager struct {
	logger *slog.Logger
	store  *Store
	limits Limits

	mu   sync.Mutex
	host Host
	jobs map[string]*running
}

// running is the in-memory bookkeeping for one active job.
type running struct {
	job    *Job
	cancel chan struct{}
	done   chan struct{}
}

func NewManager(store *Store, limits Limits, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger.With("component", "tasks"),
		store:  store,
		limits: limits,
		jobs:   make(map[string]*running),
	}
}

// Bind attaches the host after construction. The manager and the
// orchestrator reference each other, so one of them has to be wired
// late; job timers never fire before Recover, which requires a host.
func (m *Manager) Bind(h Host) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.host = h
}

// Recover reloads persisted jobs after a restart. Jobs whose lifetime
// elapsed while the process was down are discarded; the rest are
// rescheduled with their remaining duration.
func (m *Manager) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.host == nil {
		return fmt.Errorf("task manager: recover before Bind")
	}

	jobs, err := m.store.List()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, j := range jobs {
		remaining := j.Remaining(now)
		if remaining <= 0 {
			m.logger.Info("discarding expired job", "job_id", j.ID, "title", j.Config.Title)
			if err := m.store.Delete(j.ID); err != nil {
				m.logger.Error("failed to delete expired job", "job_id", j.ID, "error", err)
			}
			continue
		}
		m.launchLocked(j, remaining)
		m.logger.Info("recovered job", "job_id", j.ID, "title", j.Config.Title,
			"remaining", remaining)
	}
	return nil
}

// Start validates cfg, persists a new job, and schedules its timers.
// Validation failures return a *ValidationError and leave no trace.
func (m *Manager) Start(cfg Config) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.host == nil {
		return "", fmt.Errorf("task manager: start before Bind")
	}

	if cfg.Duration <= 0 || (m.limits.MaxDuration > 0 && cfg.Duration > m.limits.MaxDuration) {
		return "", &ValidationError{Reason: ReasonBadDuration,
			Detail: fmt.Sprintf("duration must be positive and at most %s", m.limits.MaxDuration)}
	}
	if cfg.Interval <= 0 || cfg.Interval > cfg.Duration {
		return "", &ValidationError{Reason: ReasonBadInterval,
			Detail: "interval must be positive and no longer than the duration"}
	}
	if n := len(cfg.Title); n < m.limits.MinTitle || n > m.limits.MaxTitle {
		return "", &ValidationError{Reason: ReasonTitleLength,
			Detail: fmt.Sprintf("title must be between %d and %d characters", m.limits.MinTitle, m.limits.MaxTitle)}
	}

	active := 0
	for _, r := range m.jobs {
		c := r.job.Config
		if c.UserID != cfg.UserID {
			continue
		}
		active++
		if c.Title == cfg.Title {
			return "", &ValidationError{Reason: ReasonDuplicateTitle,
				Detail: fmt.Sprintf("a task titled %q already exists", cfg.Title)}
		}
		if c.ConversationID == cfg.ConversationID && c.Prompt == cfg.Prompt {
			return "", &ValidationError{Reason: ReasonDuplicatePrompt,
				Detail: "an identical task is already running in this conversation"}
		}
	}
	if m.limits.QuotaPerUser > 0 && active >= m.limits.QuotaPerUser {
		return "", &ValidationError{Reason: ReasonQuotaExceeded,
			Detail: fmt.Sprintf("at most %d active tasks per user", m.limits.QuotaPerUser)}
	}

	job := &Job{ID: NewID(), Config: cfg, StartedAt: time.Now()}
	if err := m.store.Create(job); err != nil {
		return "", err
	}
	m.launchLocked(job, cfg.Duration)
	m.logger.Info("started job", "job_id", job.ID, "title", cfg.Title,
		"interval", cfg.Interval, "duration", cfg.Duration)
	return job.ID, nil
}

// Stop cancels a running job, removing its timers, bookkeeping entry,
// and persisted record. Unknown IDs are reported to the caller.
func (m *Manager) Stop(jobID string) error {
	m.mu.Lock()
	r, ok := m.jobs[jobID]
	if ok {
		close(r.cancel)
		delete(m.jobs, jobID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no task with id %s", jobID)
	}
	if err := m.store.Delete(jobID); err != nil {
		return err
	}
	m.logger.Info("stopped job", "job_id", jobID, "title", r.job.Config.Title)
	return nil
}

// List returns the caller-visible summaries of userID's active jobs.
// An empty userID lists everything.
func (m *Manager) List(userID string) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Info
	for _, r := range m.jobs {
		c := r.job.Config
		if userID != "" && c.UserID != userID {
			continue
		}
		out = append(out, Info{
			JobID:     r.job.ID,
			Title:     c.Title,
			Prompt:    c.Prompt,
			StartedAt: r.job.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Close cancels all timers without touching persisted records, so
// jobs resume on the next Recover.
func (m *Manager) Close() {
	m.mu.Lock()
	var waiting []*running
	for id, r := range m.jobs {
		close(r.cancel)
		delete(m.jobs, id)
		waiting = append(waiting, r)
	}
	m.mu.Unlock()
	for _, r := range waiting {
		<-r.done
	}
}

// launchLocked starts the runner goroutine. Caller holds m.mu.
func (m *Manager) launchLocked(job *Job, remaining time.Duration) {
	r := &running{
		job:    job,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.jobs[job.ID] = r
	go m.run(r, remaining)
}

// run fires the job's prompt at each interval until the lifetime
// elapses or the job is stopped. Firings happen outside the manager
// lock so a slow model call never blocks Start/Stop/List.
func (m *Manager) run(r *running, remaining time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(r.job.Config.Interval)
	defer ticker.Stop()
	lifetime := time.NewTimer(remaining)
	defer lifetime.Stop()

	for {
		select {
		case <-r.cancel:
			return
		case <-lifetime.C:
			m.expire(r)
			return
		case <-ticker.C:
			m.fire(r)
		}
	}
}

// fire runs one scheduled model query and delivers the answer to the
// job's conversation. The result is dropped if the job was stopped
// while the query was in flight.
func (m *Manager) fire(r *running) {
	cfg := r.job.Config
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	m.mu.Lock()
	host := m.host
	m.mu.Unlock()

	answer, err := host.Query(ctx, cfg.UserID, cfg.Prompt, cfg.ConversationID)
	if err != nil {
		m.logger.Error("scheduled query failed", "job_id", r.job.ID,
			"title", cfg.Title, "error", err)
		return
	}
	select {
	case <-r.cancel:
		m.logger.Debug("dropping result for stopped job", "job_id", r.job.ID)
		return
	default:
	}
	if answer == "" {
		return
	}
	if err := host.SendMessage(cfg.ConversationID, answer); err != nil {
		m.logger.Error("failed to deliver scheduled result", "job_id", r.job.ID, "error", err)
	}
}

// expire removes a job whose lifetime elapsed and tells the
// conversation it finished.
func (m *Manager) expire(r *running) {
	m.mu.Lock()
	_, ok := m.jobs[r.job.ID]
	if ok {
		delete(m.jobs, r.job.ID)
	}
	host := m.host
	m.mu.Unlock()
	if !ok {
		// Stop won the race; it already cleaned up.
		return
	}
	if err := m.store.Delete(r.job.ID); err != nil {
		m.logger.Error("failed to delete finished job", "job_id", r.job.ID, "error", err)
	}
	m.logger.Info("job finished", "job_id", r.job.ID, "title", r.job.Config.Title)
	if err := host.SendMessage(r.job.Config.ConversationID,
		fmt.Sprintf("Background task %q has finished.", r.job.Config.Title)); err != nil {
		m.logger.Error("failed to announce finished job", "job_id", r.job.ID, "error", err)
	}
}
