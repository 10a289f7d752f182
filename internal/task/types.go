// Package task schedules recurring background invocations of the
// model-query primitive, independent of any live conversation turn.
// Jobs survive process restarts through a SQLite-backed store.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config describes one background task as requested by a user.
type Config struct {
	UserID         string        `json:"user_id"`
	ConversationID string        `json:"conversation_id"`
	Prompt         string        `json:"prompt"` // sent to the model on every firing
	Title          string        `json:"title"`
	Duration       time.Duration `json:"duration"` // total lifetime
	Interval       time.Duration `json:"interval"` // time between firings
}

// Job is a persisted task record.
type Job struct {
	ID        string    `json:"job_id"`
	Config    Config    `json:"config"`
	StartedAt time.Time `json:"started_at"`
}

// Remaining returns how much of the job's lifetime is left at now.
func (j *Job) Remaining(now time.Time) time.Duration {
	return j.Config.Duration - now.Sub(j.StartedAt)
}

// Info is the caller-visible summary of a running job.
type Info struct {
	JobID     string    `json:"job_id"`
	Title     string    `json:"title"`
	Prompt    string    `json:"prompt"`
	StartedAt time.Time `json:"started_at"`
}

// Limits bound task creation per user.
type Limits struct {
	// QuotaPerUser is the maximum number of active tasks per user.
	QuotaPerUser int
	// MinTitle and MaxTitle bound title length in bytes.
	MinTitle int
	MaxTitle int
	// MaxDuration is the longest allowed task lifetime.
	MaxDuration time.Duration
}

// Reason classifies why task creation was rejected.
type Reason string

const (
	ReasonBadDuration     Reason = "bad_duration"
	ReasonBadInterval     Reason = "bad_interval"
	ReasonTitleLength     Reason = "title_length"
	ReasonDuplicateTitle  Reason = "duplicate_title"
	ReasonDuplicatePrompt Reason = "duplicate_prompt"
	ReasonQuotaExceeded   Reason = "quota_exceeded"
)

// ValidationError reports a rejected task-start request. It is
// returned synchronously to the caller; no record is created.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task rejected (%s): %s", e.Reason, e.Detail)
}

// Host is the collaborator the scheduler delivers through. SendMessage
// reaches the conversation's transport channel; Query is the
// orchestrator's model-query primitive.
type Host interface {
	SendMessage(conversationID, text string) error
	Query(ctx context.Context, userID, prompt, conversationID string) (string, error)
}

// NewID generates a new job ID (UUIDv7, falling back to v4).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
