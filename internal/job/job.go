// Package job defines the Indexing Job exchanged between the producer and the
// batch handler, its JSON wire form and its validation rules.
package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/document"
)

// Job is one batch of work bound for one index. With Reload set, IDs holds
// record identifiers to fetch and normalize; otherwise Documents holds
// documents ready to upload. A job never carries both.
type Job struct {
	ID          string
	RunID       string
	EntityClass string
	IDs         []string
	Documents   []*document.Document
	Reload      bool
	PrimaryKey  string
	Locale      string
	IndexName   string
	Sync        bool
	Wait        bool
	Attempt     int
	EnqueuedAt  time.Time
}

// NewReload creates a job that reloads ids of class.
func NewReload(class string, ids []string) *Job {
	return &Job{
		ID:          uuid.NewString(),
		EntityClass: class,
		IDs:         ids,
		Reload:      true,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// NewDocuments creates a job carrying pre-normalized documents.
func NewDocuments(class string, docs []*document.Document) *Job {
	return &Job{
		ID:          uuid.NewString(),
		EntityClass: class,
		Documents:   docs,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Size returns the number of identifiers or documents carried.
func (j *Job) Size() int {
	if j.Reload {
		return len(j.IDs)
	}
	return len(j.Documents)
}

// Key is the partition key used on the queue; jobs for one index share a
// partition.
func (j *Job) Key() string {
	if j.IndexName != "" {
		return j.IndexName
	}
	return j.EntityClass
}

type wireJob struct {
	ID             string          `json:"id"`
	RunID          string          `json:"runId,omitempty"`
	EntityClass    string          `json:"entityClass"`
	EntityData     json.RawMessage `json:"entityData"`
	Reload         bool            `json:"reload"`
	PrimaryKeyName string          `json:"primaryKeyName,omitempty"`
	Locale         string          `json:"locale,omitempty"`
	IndexName      string          `json:"indexName,omitempty"`
	Sync           bool            `json:"sync"`
	Wait           bool            `json:"wait"`
	Attempt        int             `json:"attempt,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
}

// MarshalJSON encodes the job with entityData holding identifiers or
// documents according to Reload.
func (j *Job) MarshalJSON() ([]byte, error) {
	var data any = j.Documents
	if j.Reload {
		data = j.IDs
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding entity data: %w", err)
	}
	return json.Marshal(wireJob{
		ID:             j.ID,
		RunID:          j.RunID,
		EntityClass:    j.EntityClass,
		EntityData:     raw,
		Reload:         j.Reload,
		PrimaryKeyName: j.PrimaryKey,
		Locale:         j.Locale,
		IndexName:      j.IndexName,
		Sync:           j.Sync,
		Wait:           j.Wait,
		Attempt:        j.Attempt,
		EnqueuedAt:     j.EnqueuedAt,
	})
}

// UnmarshalJSON decodes the wire form. Identifiers may be JSON strings or
// numbers.
func (j *Job) UnmarshalJSON(b []byte) error {
	var w wireJob
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*j = Job{
		ID:          w.ID,
		RunID:       w.RunID,
		EntityClass: w.EntityClass,
		Reload:      w.Reload,
		PrimaryKey:  w.PrimaryKeyName,
		Locale:      w.Locale,
		IndexName:   w.IndexName,
		Sync:        w.Sync,
		Wait:        w.Wait,
		Attempt:     w.Attempt,
		EnqueuedAt:  w.EnqueuedAt,
	}
	if len(w.EntityData) == 0 || bytes.Equal(w.EntityData, []byte("null")) {
		return nil
	}
	if w.Reload {
		ids, err := decodeIDs(w.EntityData)
		if err != nil {
			return err
		}
		j.IDs = ids
		return nil
	}
	if err := json.Unmarshal(w.EntityData, &j.Documents); err != nil {
		return fmt.Errorf("decoding entity documents: %w", err)
	}
	return nil
}

func decodeIDs(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var values []any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("decoding entity identifiers: %w", err)
	}
	ids := make([]string, 0, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case string:
			ids = append(ids, t)
		case json.Number:
			ids = append(ids, t.String())
		default:
			return nil, fmt.Errorf("entity identifier %d has type %T", i, v)
		}
	}
	return ids, nil
}
