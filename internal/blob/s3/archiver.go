package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// ExecutionArchiveStore is the slice of the execution store the archiver
// needs.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error)
}

// ExecutionPurger deletes archived rows from the primary store.
type ExecutionPurger interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver. Executions are partitioned by the
// month they completed in and merged into archive/executions/YYYY-MM.jsonl,
// de-duplicated by execution ID so repeated runs are idempotent.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  ExecutionArchiveStore
	audit  domain.AuditStore
	purger ExecutionPurger
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, store ExecutionArchiveStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// SetPurger enables deletion of archived rows once every upload succeeded.
func (a *Archiver) SetPurger(p ExecutionPurger) { a.purger = p }

// ArchivePath is the object key holding one month of executions.
func ArchivePath(month string) string {
	return fmt.Sprintf("archive/executions/%s.jsonl", month)
}

// ArchiveExecutions uploads every execution completed before the cutoff and
// returns how many records were newly archived.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.ExecutionRecord)
	for _, rec := range records {
		m := rec.CompletedAt.UTC().Format("2006-01")
		byMonth[m] = append(byMonth[m], rec)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var added int64
	for _, m := range months {
		n, err := a.archiveMonth(ctx, m, byMonth[m])
		if err != nil {
			return added, err
		}
		added += n
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"months": months,
			"count":  added,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "archive audit failed", slog.String("error", err.Error()))
		}
	}

	if a.purger != nil {
		purged, err := a.purger.DeleteBefore(ctx, before)
		if err != nil {
			return added, fmt.Errorf("s3blob: purge archived executions: %w", err)
		}
		a.logger.InfoContext(ctx, "purged archived executions", slog.Int64("rows", purged))
	}
	return added, nil
}

func (a *Archiver) archiveMonth(ctx context.Context, month string, fresh []domain.ExecutionRecord) (int64, error) {
	path := ArchivePath(month)
	existing, err := a.load(ctx, path)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec.ID] = struct{}{}
	}
	merged := existing
	var added int64
	for _, rec := range fresh {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		merged = append(merged, rec)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(merged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", month, err)
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", month, err)
	}

	a.logger.InfoContext(ctx, "archived executions",
		slog.String("path", path),
		slog.Int64("added", added),
		slog.Int("total", len(merged)),
	)
	return added, nil
}

// load reads an existing month archive; a missing object is empty.
func (a *Archiver) load(ctx context.Context, path string) ([]domain.ExecutionRecord, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer body.Close()
	return ReadJSONL(body)
}

// ReadJSONL decodes an execution archive.
func ReadJSONL(r io.Reader) ([]domain.ExecutionRecord, error) {
	var out []domain.ExecutionRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec domain.ExecutionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("s3blob: decode archive line %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read archive: %w", err)
	}
	return out, nil
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
