// Package uploader streams documents to the search engine as newline-delimited
// JSON in payloads bounded by a maximum byte size.
package uploader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"

	"github.com/buger/jsonparser"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
)

// DefaultMaxPayloadBytes bounds a single ingestion request.
const DefaultMaxPayloadBytes = 10_000_000

// Sink receives one NDJSON payload per flush.
type Sink interface {
	AddDocumentsNDJSON(ctx context.Context, uid string, payload []byte, primaryKey string) (engine.TaskInfo, error)
}

// Result summarizes one upload call. TaskUIDs lists the task of every flush in
// order.
type Result struct {
	TaskUIDs  []int64
	Documents int
	Flushes   int
}

// Last returns the task of the final flush.
func (r Result) Last() (int64, bool) {
	if len(r.TaskUIDs) == 0 {
		return 0, false
	}
	return r.TaskUIDs[len(r.TaskUIDs)-1], true
}

// Uploader batches documents into byte-bounded payloads. Buffers are per call
// so one Uploader serves concurrent uploads.
type Uploader struct {
	sink     Sink
	maxBytes int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an Uploader. A non-positive maxBytes uses
// DefaultMaxPayloadBytes; m may be nil.
func New(sink Sink, maxBytes int, m *metrics.Metrics) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	return &Uploader{
		sink:     sink,
		maxBytes: maxBytes,
		metrics:  m,
		logger:   slog.Default().With("component", "uploader"),
	}
}

// UploadDocuments serializes docs one line each and flushes whenever the next
// line would push the payload past the bound. A line larger than the bound is
// sent on its own. Every document must carry primaryKey with a non-null
// value; the first one that does not aborts the call before its batch is
// sent.
func (u *Uploader) UploadDocuments(ctx context.Context, index string, docs iter.Seq2[*document.Document, error], primaryKey string) (Result, error) {
	if primaryKey == "" {
		return Result{}, fmt.Errorf("uploading to %s without a primary key: %w", index, apperrors.ErrInvalidInput)
	}
	b := u.newBatch(index, primaryKey)
	n := 0
	for doc, err := range docs {
		if err != nil {
			return b.res, fmt.Errorf("reading document %d for %s: %w", n, index, err)
		}
		if doc == nil || !doc.HasPrimaryKey(primaryKey) {
			return b.res, fmt.Errorf("document %d for %s has no %q: %w", n, index, primaryKey, apperrors.ErrMissingPrimaryKey)
		}
		line, err := json.Marshal(doc)
		if err != nil {
			return b.res, fmt.Errorf("encoding document %d for %s: %w", n, index, err)
		}
		if err := b.add(ctx, line); err != nil {
			return b.res, err
		}
		n++
	}
	if err := b.flush(ctx); err != nil {
		return b.res, err
	}
	return b.res, nil
}

// UploadFile streams a line-delimited JSON file without loading it whole.
func (u *Uploader) UploadFile(ctx context.Context, index, path, primaryKey string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return u.UploadReader(ctx, index, f, primaryKey)
}

// UploadReader is UploadFile over any reader. Blank lines are skipped.
func (u *Uploader) UploadReader(ctx context.Context, index string, r io.Reader, primaryKey string) (Result, error) {
	if primaryKey == "" {
		return Result{}, fmt.Errorf("uploading to %s without a primary key: %w", index, apperrors.ErrInvalidInput)
	}
	b := u.newBatch(index, primaryKey)
	br := bufio.NewReaderSize(r, 64*1024)
	for lineNo := 1; ; lineNo++ {
		raw, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return b.res, fmt.Errorf("reading line %d: %w", lineNo, readErr)
		}
		line := bytes.TrimSpace(raw)
		if len(line) > 0 {
			if err := checkPrimaryKey(line, primaryKey); err != nil {
				return b.res, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if err := b.add(ctx, line); err != nil {
				return b.res, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
	}
	if err := b.flush(ctx); err != nil {
		return b.res, err
	}
	return b.res, nil
}

func checkPrimaryKey(line []byte, primaryKey string) error {
	_, typ, _, err := jsonparser.Get(line, primaryKey)
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError), err == nil && typ == jsonparser.Null:
		return fmt.Errorf("document has no %q: %w", primaryKey, apperrors.ErrMissingPrimaryKey)
	case err != nil:
		return fmt.Errorf("malformed document: %v: %w", err, apperrors.ErrInvalidInput)
	}
	return nil
}

type batch struct {
	u          *Uploader
	index      string
	primaryKey string
	buf        bytes.Buffer
	docs       int
	res        Result
}

func (u *Uploader) newBatch(index, primaryKey string) *batch {
	return &batch{u: u, index: index, primaryKey: primaryKey}
}

// add appends one line (without its newline), flushing first when the line
// does not fit next to what is buffered.
func (b *batch) add(ctx context.Context, line []byte) error {
	size := len(line) + 1
	if b.buf.Len() > 0 && b.buf.Len()+size > b.u.maxBytes {
		if err := b.flush(ctx); err != nil {
			return err
		}
	}
	b.buf.Write(line)
	b.buf.WriteByte('\n')
	b.docs++
	if size > b.u.maxBytes {
		b.u.logger.Warn("document exceeds payload bound, sending alone",
			"index", b.index,
			"bytes", size,
			"max_bytes", b.u.maxBytes,
		)
		return b.flush(ctx)
	}
	return nil
}

func (b *batch) flush(ctx context.Context) error {
	if b.buf.Len() == 0 {
		return nil
	}
	// The primary key is only declared on the first payload of a call.
	pk := ""
	if b.res.Flushes == 0 {
		pk = b.primaryKey
	}
	payloadSize := b.buf.Len()
	info, err := b.u.sink.AddDocumentsNDJSON(ctx, b.index, b.buf.Bytes(), pk)
	if err != nil {
		b.u.observe("error", payloadSize, b.index, 0)
		return fmt.Errorf("flushing %d documents (%d bytes) to %s: %w", b.docs, payloadSize, b.index, err)
	}
	b.u.observe("ok", payloadSize, b.index, b.docs)
	b.u.logger.Debug("payload flushed",
		"index", b.index,
		"documents", b.docs,
		"bytes", payloadSize,
		"task_uid", info.UID,
	)
	b.res.TaskUIDs = append(b.res.TaskUIDs, info.UID)
	b.res.Documents += b.docs
	b.res.Flushes++
	b.buf.Reset()
	b.docs = 0
	return nil
}

func (u *Uploader) observe(status string, size int, index string, docs int) {
	if u.metrics == nil {
		return
	}
	u.metrics.UploadFlushesTotal.WithLabelValues(status).Inc()
	u.metrics.UploadPayloadBytes.Observe(float64(size))
	if docs > 0 {
		u.metrics.DocumentsUploaded.WithLabelValues(index).Add(float64(docs))
	}
}
