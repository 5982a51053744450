package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/changes"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/handler"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/indexuid"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/locale"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/planner"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/producer"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/syncer"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/uploader"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/redis"
)

// needs selects which external services a command connects to. The search
// engine is always wired.
type needs uint8

const (
	needDB needs = 1 << iota
	needRedis
	needKafka
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	reg      *registry.Registry
	locales  *locale.Resolver
	uids     indexuid.Resolver
	engine   *engine.Client
	indexes  *lifecycle.Manager
	uploader *uploader.Uploader

	db      *postgres.Client
	store   *store.Postgres
	redis   *redis.Client
	tracker *tasks.Tracker
	jobs    *kafka.Producer
	dlq     *kafka.Producer

	closers []func() error
}

func newApp(cfg *config.Config, n needs) (*app, error) {
	reg, err := registry.FromConfig(cfg.Indexes)
	if err != nil {
		return nil, fmt.Errorf("building index registry: %w", err)
	}
	m := metrics.New(nil)
	client := engine.New(cfg.Engine, m)

	a := &app{
		cfg:      cfg,
		metrics:  m,
		reg:      reg,
		locales:  locale.NewResolver(reg, cfg.Locales),
		uids:     indexuid.New(cfg.Index.Prefix),
		engine:   client,
		indexes:  lifecycle.New(client, waitOptions(cfg.Tasks), m),
		uploader: uploader.New(client, cfg.Engine.MaxPayloadBytes, m),
	}

	if n&needDB != 0 {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		a.store = store.NewPostgres(db, reg)
		a.closers = append(a.closers, db.Close)
	}
	if n&needRedis != 0 {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rc
		a.tracker = tasks.NewTracker(rc, cfg.Redis.TaskTTL)
		a.closers = append(a.closers, rc.Close)
	}
	if n&needKafka != 0 {
		a.jobs = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Jobs)
		a.dlq = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DeadLetter)
		a.closers = append(a.closers, a.jobs.Close, a.dlq.Close)
	}
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("closing connections", "error", err)
	}
}

func waitOptions(t config.TasksConfig) lifecycle.WaitOptions {
	return lifecycle.WaitOptions{
		PollInterval: t.PollInterval,
		MaxInterval:  t.MaxInterval,
		MaxAttempts:  t.MaxAttempts,
	}
}

// planner consults the translation tables when a database is wired.
func (a *app) planner() *planner.Planner {
	var tr planner.Translatable
	if a.db != nil {
		tr = store.NewTranslations(a.db, a.reg, a.locales.Default())
	}
	return planner.New(a.reg, a.locales, a.uids, tr)
}

func (a *app) handler() *handler.Handler {
	var recorder handler.TaskRecorder
	if a.tracker != nil {
		recorder = a.tracker
	}
	return handler.New(a.reg, a.store, store.GroupNormalizer{}, a.uploader, a.indexes, a.uids, recorder, handler.Config{
		DefaultLocale: a.locales.Default(),
		Groups:        a.cfg.Index.Groups,
		AutoCreate:    a.cfg.Index.AutoCreate,
	})
}

// bus runs synchronous jobs through a local handler and publishes the rest
// when Kafka is wired.
func (a *app) bus() *dispatch.Bus {
	b := &dispatch.Bus{Metrics: a.metrics}
	if a.store != nil {
		b.Inline = dispatch.Func(a.handler().Apply)
	}
	if a.jobs != nil {
		b.Async = dispatch.NewKafka(a.jobs)
	}
	return b
}

func (a *app) syncer() *syncer.Syncer {
	var tracker syncer.RunTracker
	if a.tracker != nil {
		tracker = a.tracker
	}
	return syncer.New(a.reg, a.planner(), a.indexes, producer.New(a.store, a.bus()), tracker, syncer.Config{
		BatchSize:  a.cfg.Index.BatchSize,
		AutoCreate: a.cfg.Index.AutoCreate,
		Wait:       waitOptions(a.cfg.Tasks),
	}, a.metrics)
}

func (a *app) flusher(sync bool) *changes.Flusher {
	return changes.NewFlusher(a.reg, a.planner(), a.bus(), a.engine, changes.Config{
		BatchSize: a.cfg.Index.BatchSize,
		Sync:      sync,
	})
}
