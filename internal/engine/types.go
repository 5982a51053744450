package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of an engine task. It only moves forward:
// enqueued, processing, then succeeded or failed.
type Status string

const (
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// TaskError is the failure detail of a failed task.
type TaskError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Link    string `json:"link,omitempty"`
}

func (e *TaskError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Task is the engine's record of an asynchronous operation.
type Task struct {
	UID        int64          `json:"uid"`
	IndexUID   string         `json:"indexUid,omitempty"`
	Status     Status         `json:"status"`
	Type       string         `json:"type"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Error      *TaskError     `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// TaskInfo is the summary returned by every mutating call. Engines report the
// id as either taskUid or uid; both decode into UID.
type TaskInfo struct {
	UID        int64
	IndexUID   string
	Status     Status
	Type       string
	EnqueuedAt time.Time
}

func (t *TaskInfo) UnmarshalJSON(b []byte) error {
	var raw struct {
		TaskUID    *int64    `json:"taskUid"`
		UID        *int64    `json:"uid"`
		IndexUID   string    `json:"indexUid"`
		Status     Status    `json:"status"`
		Type       string    `json:"type"`
		EnqueuedAt time.Time `json:"enqueuedAt"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw.TaskUID != nil:
		t.UID = *raw.TaskUID
	case raw.UID != nil:
		t.UID = *raw.UID
	default:
		return fmt.Errorf("task info without taskUid: %s", b)
	}
	t.IndexUID = raw.IndexUID
	t.Status = raw.Status
	t.Type = raw.Type
	t.EnqueuedAt = raw.EnqueuedAt
	return nil
}

// Index is an index as described by the engine.
type Index struct {
	UID        string    `json:"uid"`
	PrimaryKey string    `json:"primaryKey,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}
