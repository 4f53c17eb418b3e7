package queue

import (
	"context"
	"errors"
	"time"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job tracks one enqueued processing task for an asset.
type Job struct {
	ID           string    `json:"id"`
	AssetPath    string    `json:"assetPath"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one delivered job. A nil return acknowledges the job;
// an error requeues it unless the error is Permanent or retries are
// exhausted.
type Handler func(ctx context.Context, job Job) error

// TaskQueue enqueues asset processing work by reference and runs a
// consumer pool against it. Delivery is at-least-once.
type TaskQueue interface {
	Enqueue(ctx context.Context, assetPath, kind string) (Job, error)
	GetJob(ctx context.Context, jobID string) (Job, bool, error)
	Start(ctx context.Context, concurrency int, handler Handler)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as terminal so the queue fails the job without
// redelivering it. Used for failures where a retry cannot help, like a
// missing asset reference.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
