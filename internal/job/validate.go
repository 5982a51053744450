package job

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
)

const (
	maxEntities     = 10_000
	maxClassLength  = 255
	maxIndexNameLen = 400
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidJob
}

// Validate checks that j is well formed and carries exactly one kind of
// entity data.
func Validate(j *Job) error {
	if j == nil {
		return &ValidationError{Fields: map[string]string{"job": "job is required"}}
	}
	errs := make(map[string]string)

	class := strings.TrimSpace(j.EntityClass)
	if class == "" {
		errs["entityClass"] = "entity class is required"
	} else if len(class) > maxClassLength {
		errs["entityClass"] = fmt.Sprintf("entity class must be at most %d characters", maxClassLength)
	}

	switch {
	case j.Reload && len(j.Documents) > 0:
		errs["entityData"] = "reload job must carry identifiers only"
	case !j.Reload && len(j.IDs) > 0:
		errs["entityData"] = "document job must not carry identifiers"
	case j.Size() == 0:
		errs["entityData"] = "entity data is empty"
	case j.Size() > maxEntities:
		errs["entityData"] = fmt.Sprintf("entity data must hold at most %d entries", maxEntities)
	}

	if j.Reload {
		for i, id := range j.IDs {
			if strings.TrimSpace(id) == "" {
				errs["entityData"] = fmt.Sprintf("identifier %d is empty", i)
				break
			}
		}
	} else {
		for i, d := range j.Documents {
			if d == nil {
				errs["entityData"] = fmt.Sprintf("document %d is null", i)
				break
			}
		}
	}

	if len(j.IndexName) > maxIndexNameLen {
		errs["indexName"] = fmt.Sprintf("index name must be at most %d characters", maxIndexNameLen)
	}
	if j.Attempt < 0 {
		errs["attempt"] = "attempt must not be negative"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
