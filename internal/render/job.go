// Package render implements the in-process render job queue: the job state
// machine, its store, the scheduler that admits and dispatches work under a
// concurrency bound, and the worker that drives one job through an engine.
package render

import (
	"errors"
	"strings"
	"time"
)

// ErrCancelled is the cancellation cause attached to a job's context when a
// client cancels it or the scheduler shuts down.
var ErrCancelled = errors.New("render cancelled")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled}

var transitions = map[Status][]Status{
	StatusQueued:     {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether to is a legal next state.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is one render request and its lifecycle. Values handed out by the
// Store are snapshots; mutate only through Store.Update.
type Job struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Spec

	Error       string `json:"error,omitempty"`
	OutputPath  string `json:"outputPath,omitempty"`
	OutputURL   string `json:"outputUrl,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	MirrorKey   string `json:"mirrorKey,omitempty"`

	CancelRequested bool       `json:"cancelRequested"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// Duration is the wall time between start and finish, zero if either is unset.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// checkInvariants enforces the field rules that hold in every state.
func (j Job) checkInvariants() error {
	if (j.OutputURL != "") != (j.Status == StatusCompleted) {
		return errors.New("outputUrl must be set exactly when completed")
	}
	if j.Error != "" && j.Status != StatusFailed {
		return errors.New("error must only be set when failed")
	}
	return nil
}

const maxErrorLen = 2000

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return strings.ToValidUTF8(msg[:maxErrorLen], "")
}
