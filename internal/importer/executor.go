// Package importer orchestrates one ingestion run end to end: mapping,
// preload, validation, duplicate resolution, and apply.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edusys/bulkimport/internal/dedup"
	"github.com/edusys/bulkimport/internal/domain"
	"github.com/edusys/bulkimport/internal/lookup"
	"github.com/edusys/bulkimport/internal/mapping"
	"github.com/edusys/bulkimport/internal/repository"
	"github.com/edusys/bulkimport/internal/schema"
	"github.com/edusys/bulkimport/internal/validation"
)

// Options tune one service instance. Zero values fall back to defaults.
type Options struct {
	// ErrorCap bounds the total number of field errors carried by a report.
	// Rows rejected past the cap keep their first error so the rejected count
	// stays exact; the report is marked truncated.
	ErrorCap int
	// PreloadTimeout bounds the reference and existing-record bulk reads.
	PreloadTimeout time.Duration
	// ValidateWorkers bounds concurrent row validation.
	ValidateWorkers int
}

const (
	defaultErrorCap        = 100
	defaultPreloadTimeout  = 30 * time.Second
	defaultValidateWorkers = 4
)

// Request describes one upload to run. Overrides map raw header labels to
// canonical field names (or "-" to skip a column) and take priority over
// automatic header resolution.
type Request struct {
	EntityType string
	Policy     domain.DuplicatePolicy
	Headers    []string
	Rows       [][]string
	Overrides  map[string]string
	FileName   string
	Actor      string
}

// Service runs import jobs against one schema registry and one record store.
// It is stateless between runs and safe for concurrent use.
type Service struct {
	registry *schema.Registry
	store    repository.RecordStore
	history  repository.ImportHistoryRepository
	opts     Options
}

// NewService wires an executor. history may be nil to disable audit recording.
func NewService(registry *schema.Registry, store repository.RecordStore, history repository.ImportHistoryRepository, opts Options) *Service {
	if opts.ErrorCap <= 0 {
		opts.ErrorCap = defaultErrorCap
	}
	if opts.PreloadTimeout <= 0 {
		opts.PreloadTimeout = defaultPreloadTimeout
	}
	if opts.ValidateWorkers <= 0 {
		opts.ValidateWorkers = defaultValidateWorkers
	}
	return &Service{registry: registry, store: store, history: history, opts: opts}
}

// rowResult carries one row's validation outcome between the concurrent
// validation phase and the serial apply phase.
type rowResult struct {
	record domain.Record
	errs   []domain.FieldError
}

// Run executes one job. Fatal configuration and preload failures return an
// error and no report. Once row processing starts the run always produces a
// report: row-level failures, store write failures, and cancellation all
// degrade to per-row outcomes instead of aborting the job.
func (s *Service) Run(ctx context.Context, req Request) (domain.ImportReport, error) {
	es, err := s.registry.Entity(req.EntityType)
	if err != nil {
		return domain.ImportReport{}, err
	}

	colMap, err := mapping.Resolve(req.Headers, es.Fields, req.Overrides)
	if err != nil {
		return domain.ImportReport{}, err
	}

	job := domain.NewImportJob(req.EntityType, req.Policy, req.Headers, req.Rows, req.FileName, req.Actor)
	job.Mapping = colMap

	log.Printf("[IMPORT] job %s: entity=%s policy=%s rows=%d file=%q",
		job.ID, job.EntityType, job.Policy, len(job.Rows), job.FileName)

	preloadCtx, cancel := context.WithTimeout(ctx, s.opts.PreloadTimeout)
	defer cancel()

	refRequests, matchKeys := collectKeys(es, job)
	cache, err := lookup.Preload(preloadCtx, s.store, job.EntityType, refRequests)
	if err != nil {
		return domain.ImportReport{}, err
	}

	// Entities without a match key (append-only ones like payments) get no
	// duplicate detection; every valid row is applied as new.
	var existing map[string]string
	if len(es.MatchKey) > 0 {
		existingRecords, err := s.store.BulkFetchExisting(preloadCtx, job.EntityType, matchKeys)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(preloadCtx.Err(), context.DeadlineExceeded) {
				return domain.ImportReport{}, domain.NewJobError(domain.JobErrPreloadTimeout,
					"existing-record preload for %s timed out", job.EntityType)
			}
			return domain.ImportReport{}, fmt.Errorf("fetch existing %s records: %w", job.EntityType, err)
		}
		existing = make(map[string]string, len(existingRecords))
		for key, rec := range existingRecords {
			existing[key] = rec.ID
		}
	}

	engine := validation.NewEngine(es, job.HeaderRow, job.Mapping, cache)
	results := make([]rowResult, len(job.Rows))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.ValidateWorkers)
	for i := range job.Rows {
		g.Go(func() error {
			record, errs := engine.Validate(job.Rows[i])
			results[i] = rowResult{record: record, errs: errs}
			return nil
		})
	}
	g.Wait()

	resolver := dedup.NewResolver(es.MatchKey, existing)
	report := s.apply(ctx, job, es, results, resolver)

	s.recordHistory(job, report)
	log.Printf("[IMPORT] job %s: imported=%d updated=%d skipped=%d rejected=%d truncated=%t",
		job.ID, report.Imported, report.Updated, report.Skipped, report.Rejected, report.Truncated)
	return report, nil
}

// apply walks validated rows in file order on a single goroutine, classifying
// duplicates and issuing store writes. Classification order is what makes the
// earlier-row-wins rule deterministic.
func (s *Service) apply(ctx context.Context, job domain.ImportJob, es schema.EntitySchema, results []rowResult, resolver *dedup.Resolver) domain.ImportReport {
	report := domain.ImportReport{
		EntityType: job.EntityType,
		TotalRows:  len(job.Rows),
		Rows:       make([]domain.RowOutcome, 0, len(job.Rows)),
	}

	cancelled := false
	for i, row := range job.Rows {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
		}
		if cancelled {
			report.Rows = append(report.Rows, skippedCancelled(row.Number))
			report.Skipped++
			continue
		}

		res := results[i]
		if len(res.errs) > 0 {
			report.Rows = append(report.Rows, domain.RowOutcome{
				Row:         row.Number,
				Disposition: domain.DispositionRejected,
				Errors:      res.errs,
			})
			report.Rejected++
			continue
		}

		outcome := s.applyRow(ctx, job, es, row.Number, res.record, resolver)
		if cancelledOutcome(outcome) {
			cancelled = true
		}
		report.Rows = append(report.Rows, outcome)
		switch outcome.Disposition {
		case domain.DispositionImported:
			report.Imported++
		case domain.DispositionUpdated:
			report.Updated++
		case domain.DispositionSkipped:
			report.Skipped++
		case domain.DispositionRejected:
			report.Rejected++
		}
	}

	report.Truncated = truncateErrors(report.Rows, s.opts.ErrorCap)
	return report
}

// applyRow classifies one valid record and performs the store write its
// duplicate policy demands.
func (s *Service) applyRow(ctx context.Context, job domain.ImportJob, es schema.EntitySchema, rowNum int, record domain.Record, resolver *dedup.Resolver) domain.RowOutcome {
	cls := resolver.Classify(record)
	if !cls.Duplicate {
		id, err := s.store.Create(ctx, job.EntityType, record)
		if err != nil {
			return storeFailure(ctx, rowNum, "create", err)
		}
		resolver.Stage(record, id)
		return domain.RowOutcome{Row: rowNum, Disposition: domain.DispositionImported, Record: record}
	}

	switch job.Policy {
	case domain.DuplicateSkip:
		return domain.RowOutcome{Row: rowNum, Disposition: domain.DispositionSkipped}

	case domain.DuplicateError:
		return domain.RowOutcome{
			Row:         rowNum,
			Disposition: domain.DispositionRejected,
			Errors: []domain.FieldError{{
				Row:     rowNum,
				Field:   domain.CrossFieldName,
				Kind:    domain.ErrDuplicateConflict,
				Message: fmt.Sprintf("a %s with the same %v already exists", job.EntityType, es.MatchKey),
			}},
		}

	case domain.DuplicateUpdate:
		mutable := mutableFields(es, record)
		if len(mutable) > 0 {
			if err := s.store.Update(ctx, job.EntityType, cls.ExistingID, mutable); err != nil {
				return storeFailure(ctx, rowNum, "update", err)
			}
		}
		resolver.Stage(record, cls.ExistingID)
		return domain.RowOutcome{Row: rowNum, Disposition: domain.DispositionUpdated, Record: record}

	default:
		return domain.RowOutcome{
			Row:         rowNum,
			Disposition: domain.DispositionRejected,
			Errors: []domain.FieldError{{
				Row:     rowNum,
				Field:   domain.CrossFieldName,
				Kind:    domain.ErrSystemError,
				Message: fmt.Sprintf("unknown duplicate policy %q", job.Policy),
			}},
		}
	}
}

// storeFailure turns a store write error into a row outcome. A cancelled
// context means the write never took effect, so the row counts as skipped;
// any other error rejects just this row.
func storeFailure(ctx context.Context, rowNum int, op string, err error) domain.RowOutcome {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return skippedCancelled(rowNum)
	}
	log.Printf("[IMPORT] row %d: %s failed: %v", rowNum, op, err)
	return domain.RowOutcome{
		Row:         rowNum,
		Disposition: domain.DispositionRejected,
		Errors: []domain.FieldError{{
			Row:     rowNum,
			Field:   domain.CrossFieldName,
			Kind:    domain.ErrSystemError,
			Message: fmt.Sprintf("storage %s failed: %v", op, err),
		}},
	}
}

func skippedCancelled(rowNum int) domain.RowOutcome {
	return domain.RowOutcome{
		Row:         rowNum,
		Disposition: domain.DispositionSkipped,
		Errors: []domain.FieldError{{
			Row:     rowNum,
			Field:   domain.CrossFieldName,
			Kind:    domain.ErrSystemError,
			Message: "job cancelled before this row was applied",
		}},
	}
}

func cancelledOutcome(o domain.RowOutcome) bool {
	return o.Disposition == domain.DispositionSkipped && len(o.Errors) == 1 &&
		o.Errors[0].Kind == domain.ErrSystemError && o.Errors[0].Message == "job cancelled before this row was applied"
}

// mutableFields strips immutable fields from a record before an update write,
// so identity fields are never rewritten.
func mutableFields(es schema.EntitySchema, record domain.Record) domain.Record {
	out := make(domain.Record, len(record))
	for name, value := range record {
		if f, ok := es.Field(name); ok && f.Immutable {
			continue
		}
		out[name] = value
	}
	return out
}

// collectKeys scans the raw rows once and gathers, per reference target, the
// distinct lookup values the file mentions, plus the distinct match key
// candidates. Both feed exactly one bulk store read each.
func collectKeys(es schema.EntitySchema, job domain.ImportJob) ([]lookup.TargetKeys, []string) {
	fieldAt := make([]domain.FieldDescriptor, len(job.HeaderRow))
	mapped := make([]bool, len(job.HeaderRow))
	matchIdx := make(map[string]int, len(es.MatchKey))
	for i, name := range es.MatchKey {
		matchIdx[name] = i
	}

	for i, header := range job.HeaderRow {
		name, ok := job.Mapping.FieldFor(header)
		if !ok {
			continue
		}
		if f, found := es.Field(name); found {
			fieldAt[i] = f
			mapped[i] = true
		}
	}

	refSeen := make(map[domain.ReferenceTarget]map[string]struct{})
	refKeys := make(map[domain.ReferenceTarget][]string)
	matchSeen := make(map[string]struct{})
	var matchKeys []string

	for _, row := range job.Rows {
		parts := make([]string, len(es.MatchKey))
		for i, cell := range row.Cells {
			if i >= len(mapped) || !mapped[i] {
				continue
			}
			f := fieldAt[i]
			value := validation.Canonical(f, cell)
			if idx, ok := matchIdx[f.Name]; ok {
				parts[idx] = value
			}
			if f.Reference == nil || value == "" {
				continue
			}
			target := *f.Reference
			norm := domain.NormalizeKey(value)
			if refSeen[target] == nil {
				refSeen[target] = make(map[string]struct{})
			}
			if _, dup := refSeen[target][norm]; dup {
				continue
			}
			refSeen[target][norm] = struct{}{}
			refKeys[target] = append(refKeys[target], value)
		}

		if len(es.MatchKey) > 0 {
			key := dedup.Key(parts...)
			if _, dup := matchSeen[key]; !dup {
				matchSeen[key] = struct{}{}
				matchKeys = append(matchKeys, key)
			}
		}
	}

	requests := make([]lookup.TargetKeys, 0, len(refKeys))
	for _, target := range es.ReferenceTargets() {
		if keys, ok := refKeys[target]; ok {
			requests = append(requests, lookup.TargetKeys{Target: target, Keys: keys})
		}
	}
	return requests, matchKeys
}

// truncateErrors enforces the report-wide error cap in place. Every row that
// has errors keeps at least its first one, so a rejected row is never left
// without evidence. Reports whether anything was dropped.
func truncateErrors(rows []domain.RowOutcome, limit int) bool {
	total := 0
	withErrors := 0
	for _, r := range rows {
		total += len(r.Errors)
		if len(r.Errors) > 0 {
			withErrors++
		}
	}
	if total <= limit {
		return false
	}

	extra := limit - withErrors
	if extra < 0 {
		extra = 0
	}
	for i := range rows {
		n := len(rows[i].Errors)
		if n == 0 {
			continue
		}
		keep := 1
		if extra > 0 && n > 1 {
			add := n - 1
			if add > extra {
				add = extra
			}
			keep += add
			extra -= add
		}
		rows[i].Errors = rows[i].Errors[:keep]
	}
	return true
}

// recordHistory persists the audit entry, best effort.
func (s *Service) recordHistory(job domain.ImportJob, report domain.ImportReport) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, domain.HistoryFromReport(job, report)); err != nil {
		log.Printf("[IMPORT] job %s: failed to record history: %v", job.ID, err)
	}
}
