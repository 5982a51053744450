// Package changes collects record changes made during one unit of work and,
// once the work is committed, dispatches reload jobs for upserted records and
// deletes removed ones from every index their class feeds.
package changes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/job"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/planner"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/postgres"
)

// maxRounds bounds how many times Flush drains changes recorded while it was
// already dispatching.
const maxRounds = 8

// Planner expands a logical index into its physical targets.
type Planner interface {
	TargetsForBase(ctx context.Context, base string, perLocale bool, onlyLocales []string) []planner.Target
}

// Deleter removes documents from an index.
type Deleter interface {
	DeleteDocuments(ctx context.Context, uid string, ids []string) (engine.TaskInfo, error)
}

// Config holds Flusher settings.
type Config struct {
	BatchSize int
	Sync      bool
}

// Flusher owns the collaborators shared by every unit of work.
type Flusher struct {
	reg        *registry.Registry
	planner    Planner
	dispatcher dispatch.Dispatcher
	deleter    Deleter
	cfg        Config
	logger     *slog.Logger
}

// NewFlusher creates a Flusher. A non-positive batch size defaults to 500.
func NewFlusher(reg *registry.Registry, p Planner, d dispatch.Dispatcher, del Deleter, cfg Config) *Flusher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Flusher{
		reg:        reg,
		planner:    p,
		dispatcher: d,
		deleter:    del,
		cfg:        cfg,
		logger:     slog.Default().With("component", "changes"),
	}
}

type op uint8

const (
	opUpsert op = iota + 1
	opDelete
)

// UnitOfWork accumulates pending changes keyed by class. It is not safe for
// concurrent use.
type UnitOfWork struct {
	f           *Flusher
	pending     *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, op]]
	dispatching bool
}

// Begin starts an empty unit of work.
func (f *Flusher) Begin() *UnitOfWork {
	return &UnitOfWork{f: f, pending: newPending()}
}

func newPending() *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, op]] {
	return orderedmap.New[string, *orderedmap.OrderedMap[string, op]]()
}

// Upsert marks records of class as created or updated.
func (u *UnitOfWork) Upsert(class string, ids ...string) { u.track(class, opUpsert, ids) }

// Delete marks records of class as removed.
func (u *UnitOfWork) Delete(class string, ids ...string) { u.track(class, opDelete, ids) }

// The latest change to an id wins.
func (u *UnitOfWork) track(class string, o op, ids []string) {
	ops, ok := u.pending.Get(class)
	if !ok {
		ops = orderedmap.New[string, op]()
		u.pending.Set(class, ops)
	}
	for _, id := range ids {
		ops.Delete(id)
		ops.Set(id, o)
	}
}

// Pending returns the number of records waiting to be flushed.
func (u *UnitOfWork) Pending() int {
	n := 0
	for pair := u.pending.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Len()
	}
	return n
}

// Flush sends every pending change. A Flush issued while the unit is already
// dispatching returns immediately; changes recorded meanwhile are picked up
// by the outer Flush before it returns. Failures for one target do not stop
// the others; they are joined into the returned error.
func (u *UnitOfWork) Flush(ctx context.Context) error {
	if u.dispatching {
		return nil
	}
	u.dispatching = true
	defer func() { u.dispatching = false }()

	var errs []error
	for round := 0; u.pending.Len() > 0; round++ {
		if round == maxRounds {
			errs = append(errs, fmt.Errorf("%d changes still pending after %d flush rounds", u.Pending(), maxRounds))
			break
		}
		batch := u.pending
		u.pending = newPending()
		for pair := batch.Oldest(); pair != nil; pair = pair.Next() {
			errs = append(errs, u.flushClass(ctx, pair.Key, pair.Value)...)
		}
	}
	return errors.Join(errs...)
}

func (u *UnitOfWork) flushClass(ctx context.Context, class string, ops *orderedmap.OrderedMap[string, op]) []error {
	var upserts, deletes []string
	for pair := ops.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == opDelete {
			deletes = append(deletes, pair.Key)
		} else {
			upserts = append(upserts, pair.Key)
		}
	}

	entries := u.f.reg.ByClass(class)
	if len(entries) == 0 {
		u.f.logger.Debug("ignoring changes for unindexed class", "class", class, "records", ops.Len())
		return nil
	}

	var errs []error
	for _, entry := range entries {
		for _, t := range u.f.planner.TargetsForBase(ctx, entry.Name, true, nil) {
			if err := u.f.deleteFrom(ctx, t, deletes); err != nil {
				errs = append(errs, err)
			}
			if err := u.f.dispatchTo(ctx, t, entry, upserts); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

func (f *Flusher) deleteFrom(ctx context.Context, t planner.Target, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	info, err := f.deleter.DeleteDocuments(ctx, t.UID, ids)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		f.logger.Error("failed to delete documents", "index", t.UID, "count", len(ids), "error", err)
		return fmt.Errorf("deleting %d documents from %s: %w", len(ids), t.UID, err)
	}
	f.logger.Info("documents deleted", "index", t.UID, "count", len(ids), "task_uid", info.UID)
	return nil
}

func (f *Flusher) dispatchTo(ctx context.Context, t planner.Target, entry registry.Entry, ids []string) error {
	for chunk := range slices.Chunk(ids, f.cfg.BatchSize) {
		j := job.NewReload(t.Class, chunk)
		j.Locale = t.Locale
		j.IndexName = t.UID
		j.PrimaryKey = entry.PrimaryKey
		j.Sync = f.cfg.Sync
		if err := f.dispatcher.Dispatch(ctx, j); err != nil {
			f.logger.Error("failed to dispatch changes", "index", t.UID, "job_id", j.ID, "error", err)
			return fmt.Errorf("dispatching changes for %s: %w", t.UID, err)
		}
	}
	return nil
}

// InTx runs fn in a database transaction and flushes the unit of work fn
// filled once the transaction committed. Nothing is dispatched when fn fails
// or the commit fails.
func (f *Flusher) InTx(ctx context.Context, db *postgres.Client, fn func(tx *sql.Tx, uow *UnitOfWork) error) error {
	uow := f.Begin()
	if err := db.InTx(ctx, func(tx *sql.Tx) error { return fn(tx, uow) }); err != nil {
		return err
	}
	return uow.Flush(ctx)
}
