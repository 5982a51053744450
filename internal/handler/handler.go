// Package handler applies one indexing job: it reloads or accepts documents,
// resolves the target index and uploads them.
package handler

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/indexuid"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/job"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/locale"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/uploader"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/logger"
)

// Indexes creates indexes on demand and waits for upload tasks.
type Indexes interface {
	GetOrCreateIndex(ctx context.Context, uid, primaryKey string, autoCreate bool) (*engine.Index, error)
	WaitForTasks(ctx context.Context, uids []int64, opts lifecycle.WaitOptions) ([]*engine.Task, error)
}

// Documents uploads a document stream to one index.
type Documents interface {
	UploadDocuments(ctx context.Context, index string, docs iter.Seq2[*document.Document, error], primaryKey string) (uploader.Result, error)
}

// TaskRecorder remembers the tasks produced for a run.
type TaskRecorder interface {
	Record(ctx context.Context, runID string, taskUIDs ...int64) error
}

// Config holds the handler's static settings.
type Config struct {
	DefaultLocale string
	Groups        []string
	AutoCreate    bool
}

// Handler applies indexing jobs. It is safe for concurrent use.
type Handler struct {
	reg        *registry.Registry
	finder     store.Finder
	normalizer store.Normalizer
	docs       Documents
	indexes    Indexes
	uids       indexuid.Resolver
	recorder   TaskRecorder
	cfg        Config
}

// New creates a Handler. recorder may be nil.
func New(
	reg *registry.Registry,
	finder store.Finder,
	normalizer store.Normalizer,
	docs Documents,
	indexes Indexes,
	uids indexuid.Resolver,
	recorder TaskRecorder,
	cfg Config,
) *Handler {
	cfg.DefaultLocale = locale.Normalize(cfg.DefaultLocale)
	return &Handler{
		reg:        reg,
		finder:     finder,
		normalizer: normalizer,
		docs:       docs,
		indexes:    indexes,
		uids:       uids,
		recorder:   recorder,
		cfg:        cfg,
	}
}

// Apply processes j. Errors are returned to the caller, which owns retries.
func (h *Handler) Apply(ctx context.Context, j *job.Job) error {
	if err := job.Validate(j); err != nil {
		return err
	}
	ctx = logger.WithJob(ctx, j.ID)
	log := logger.FromContext(ctx).With("component", "job-handler")
	start := time.Now()

	loc := locale.Normalize(j.Locale)
	if loc == "" {
		loc = h.cfg.DefaultLocale
	}

	index := j.IndexName
	if index == "" {
		index = h.uids.ForClass(j.EntityClass, locale.Normalize(j.Locale))
	}

	entry, hasEntry := h.entryFor(j.EntityClass, index)
	primaryKey := j.PrimaryKey
	if primaryKey == "" && hasEntry {
		primaryKey = entry.PrimaryKey
	}
	if primaryKey == "" {
		primaryKey = registry.DefaultPrimaryKey
	}

	if j.Reload && !hasEntry {
		return fmt.Errorf("no registered index for class %q: %w", j.EntityClass, apperrors.ErrUnknownIndex)
	}
	if _, err := h.indexes.GetOrCreateIndex(ctx, index, primaryKey, h.cfg.AutoCreate); err != nil {
		return fmt.Errorf("resolving index %s: %w", index, err)
	}

	var docs iter.Seq2[*document.Document, error]
	if j.Reload {
		records, err := h.finder.FindByIDs(ctx, j.EntityClass, j.IDs, loc)
		if err != nil {
			return fmt.Errorf("loading %d %s records: %w", len(j.IDs), j.EntityClass, err)
		}
		if skipped := len(j.IDs) - len(records); skipped > 0 {
			log.Info("skipping records deleted since dispatch", "class", j.EntityClass, "missing", skipped)
		}
		docs = h.normalized(records, entry)
	} else {
		docs = passthrough(j.Documents)
	}

	res, err := h.docs.UploadDocuments(ctx, index, docs, primaryKey)
	if err != nil {
		log.Error("upload failed",
			"index", index,
			"locale", loc,
			"attempted", j.Size(),
			"uploaded", res.Documents,
			"error", err,
		)
		return err
	}

	if h.recorder != nil && j.RunID != "" && len(res.TaskUIDs) > 0 {
		if err := h.recorder.Record(ctx, j.RunID, res.TaskUIDs...); err != nil {
			log.Warn("failed to record tasks", "run_id", j.RunID, "error", err)
		}
	}

	if j.Wait {
		if _, err := h.indexes.WaitForTasks(ctx, res.TaskUIDs, lifecycle.WaitOptions{StopOnError: true}); err != nil {
			return fmt.Errorf("waiting for %s: %w", index, err)
		}
	}

	log.Info("job applied",
		"index", index,
		"locale", loc,
		"reload", j.Reload,
		"documents", res.Documents,
		"flushes", res.Flushes,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// entryFor picks the registry entry for class, preferring the one whose uid
// family index belongs to when several indexes share a class.
func (h *Handler) entryFor(class, index string) (registry.Entry, bool) {
	entries := h.reg.ByClass(class)
	if len(entries) == 0 {
		return registry.Entry{}, false
	}
	best, bestLen := entries[0], -1
	for _, e := range entries {
		base := h.uids.UIDFor(e.Name, "", false)
		if (index == base || strings.HasPrefix(index, base+"_")) && len(base) > bestLen {
			best, bestLen = e, len(base)
		}
	}
	return best, true
}

func (h *Handler) normalized(records []store.Record, entry registry.Entry) iter.Seq2[*document.Document, error] {
	return func(yield func(*document.Document, error) bool) {
		for _, rec := range records {
			doc, err := h.normalizer.Normalize(rec, entry, h.cfg.Groups)
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}
}

func passthrough(docs []*document.Document) iter.Seq2[*document.Document, error] {
	return func(yield func(*document.Document, error) bool) {
		for _, d := range docs {
			if !yield(d, nil) {
				return
			}
		}
	}
}
