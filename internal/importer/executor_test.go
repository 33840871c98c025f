package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edusys/bulkimport/internal/dedup"
	"github.com/edusys/bulkimport/internal/domain"
	"github.com/edusys/bulkimport/internal/repository"
	"github.com/edusys/bulkimport/internal/schema"
)

type createCall struct {
	entityType string
	record     domain.Record
}

type updateCall struct {
	id     string
	fields domain.Record
}

type stubStore struct {
	mu         sync.Mutex
	references map[domain.ReferenceTarget]map[string]repository.ReferenceRow
	existing   map[string]repository.ExistingRecord
	refErr     error
	existErr   error
	existCalls int
	createErr  map[string]error // keyed by full_name
	onCreate   func()
	nextID     int
	created    []createCall
	updated    []updateCall
}

var _ repository.RecordStore = (*stubStore)(nil)

// The stubs honor the bulk-read filter contracts: only records whose key was
// actually requested come back, like the real store.
func (s *stubStore) BulkFetchReference(_ context.Context, target domain.ReferenceTarget, keys []string) (map[string]repository.ReferenceRow, error) {
	if s.refErr != nil {
		return nil, s.refErr
	}
	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[domain.NormalizeKey(k)] = struct{}{}
	}
	out := make(map[string]repository.ReferenceRow)
	for key, row := range s.references[target] {
		if _, ok := wanted[domain.NormalizeKey(key)]; ok {
			out[key] = row
		}
	}
	return out, nil
}

func (s *stubStore) BulkFetchExisting(_ context.Context, _ string, matchKeys []string) (map[string]repository.ExistingRecord, error) {
	s.existCalls++
	if s.existErr != nil {
		return nil, s.existErr
	}
	wanted := make(map[string]struct{}, len(matchKeys))
	for _, k := range matchKeys {
		wanted[k] = struct{}{}
	}
	out := make(map[string]repository.ExistingRecord)
	for key, rec := range s.existing {
		if _, ok := wanted[key]; ok {
			out[key] = rec
		}
	}
	return out, nil
}

func (s *stubStore) Create(_ context.Context, entityType string, record domain.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[record["full_name"].String()]; err != nil {
		return "", err
	}
	s.nextID++
	s.created = append(s.created, createCall{entityType: entityType, record: record})
	if s.onCreate != nil {
		s.onCreate()
	}
	return fmt.Sprintf("n%d", s.nextID), nil
}

func (s *stubStore) Update(_ context.Context, _ string, id string, fields domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, updateCall{id: id, fields: fields})
	return nil
}

type stubHistory struct {
	entries []domain.ImportHistory
	err     error
}

var _ repository.ImportHistoryRepository = (*stubHistory)(nil)

func (h *stubHistory) Record(_ context.Context, entry domain.ImportHistory) error {
	if h.err != nil {
		return h.err
	}
	h.entries = append(h.entries, entry)
	return nil
}

func (h *stubHistory) List(context.Context, string, int, int) ([]domain.ImportHistory, error) {
	return h.entries, nil
}

func testRegistry() *schema.Registry {
	courseRef := &domain.ReferenceTarget{Entity: "course", Key: "name"}
	return schema.NewRegistry(schema.EntitySchema{
		Name: "student",
		Fields: []domain.FieldDescriptor{
			{Name: "full_name", Kind: domain.FieldKindText, Required: true},
			{Name: "mobile", Kind: domain.FieldKindText, Required: true,
				Pattern: `^\d{10}$`, Normalize: domain.NormalizePhone},
			{Name: "email", Kind: domain.FieldKindText},
			{Name: "course_name", Kind: domain.FieldKindText, Reference: courseRef},
		},
		MatchKey: []string{"full_name", "mobile"},
	})
}

func testStore() *stubStore {
	return &stubStore{
		references: map[domain.ReferenceTarget]map[string]repository.ReferenceRow{
			{Entity: "course", Key: "name"}: {"Python Basics": {ID: "7"}},
		},
	}
}

func testService(store *stubStore, history repository.ImportHistoryRepository, opts Options) *Service {
	return NewService(testRegistry(), store, history, opts)
}

func studentRequest(policy domain.DuplicatePolicy, rows [][]string) Request {
	return Request{
		EntityType: "student",
		Policy:     policy,
		Headers:    []string{"full_name", "mobile", "email", "course_name"},
		Rows:       rows,
		FileName:   "students.csv",
	}
}

func checkCounts(t *testing.T, report domain.ImportReport) {
	t.Helper()
	if report.Imported+report.Updated+report.Skipped+report.Rejected != report.TotalRows {
		t.Fatalf("counts do not sum to total: %+v", report)
	}
	if len(report.Rows) != report.TotalRows {
		t.Fatalf("expected one outcome per row, got %d of %d", len(report.Rows), report.TotalRows)
	}
	seen := make(map[int]bool)
	for i, outcome := range report.Rows {
		if outcome.Row != i+1 {
			t.Fatalf("outcomes out of order at index %d: %+v", i, outcome)
		}
		if seen[outcome.Row] {
			t.Fatalf("row %d appears twice", outcome.Row)
		}
		seen[outcome.Row] = true
		if outcome.Disposition == domain.DispositionRejected && len(outcome.Errors) == 0 {
			t.Fatalf("rejected row %d has no errors", outcome.Row)
		}
	}
}

func TestRunImportsValidRowsAndRejectsInvalid(t *testing.T) {
	store := testStore()
	service := testService(store, nil, Options{})

	report, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, [][]string{
		{"Asha Rao", "9876543210", "asha@example.com", "Python Basics"},
		{"Ravi Kumar", "bogus", "", ""},
		{"Meena Iyer", "9876501234", "", "No Such Course"},
		{"Vikram Shah", "9876511111", "", ""},
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	checkCounts(t, report)
	if report.Imported != 2 || report.Rejected != 2 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if len(store.created) != 2 {
		t.Fatalf("expected 2 creates, got %d", len(store.created))
	}
	if report.Rows[2].Errors[0].Kind != domain.ErrReferenceNotFound {
		t.Fatalf("expected ReferenceNotFound for unknown course, got %+v", report.Rows[2].Errors)
	}
}

func TestRunSkipPolicy(t *testing.T) {
	store := testStore()
	store.existing = map[string]repository.ExistingRecord{
		dedup.Key("Asha Rao", "9876543210"): {ID: "42"},
	}
	service := testService(store, nil, Options{})

	report, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, [][]string{
		{"Asha Rao", "9876543210", "", ""},
		{"Ravi Kumar", "9876501234", "", ""},
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	checkCounts(t, report)
	if report.Skipped != 1 || report.Imported != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if report.Rows[0].Disposition != domain.DispositionSkipped {
		t.Fatalf("duplicate row must be skipped: %+v", report.Rows[0])
	}
	if len(report.Rows[0].Errors) != 0 {
		t.Fatalf("policy skip must not attach errors: %+v", report.Rows[0])
	}
	if len(store.updated) != 0 {
		t.Fatalf("policy skip must not write")
	}
}

func TestRunUpdatePolicyWritesOnlyMutableFields(t *testing.T) {
	store := testStore()
	store.existing = map[string]repository.ExistingRecord{
		dedup.Key("Asha Rao", "9876543210"): {ID: "42"},
	}
	service := testService(store, nil, Options{})

	report, err := service.Run(context.Background(), studentRequest(domain.DuplicateUpdate, [][]string{
		{"Asha Rao", "9876543210", "new@example.com", ""},
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	checkCounts(t, report)
	if report.Updated != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if len(store.updated) != 1 {
		t.Fatalf("expected one update, got %d", len(store.updated))
	}
	call := store.updated[0]
	if call.id != "42" {
		t.Fatalf("update targeted wrong record: %+v", call)
	}
	if _, ok := call.fields["full_name"]; ok {
		t.Fatalf("match key fields must never be rewritten: %+v", call.fields)
	}
	if _, ok := call.fields["mobile"]; ok {
		t.Fatalf("match key fields must never be rewritten: %+v", call.fields)
	}
	if call.fields["email"].String() != "new@example.com" {
		t.Fatalf("mutable field not written: %+v", call.fields)
	}
}

func TestRunErrorPolicy(t *testing.T) {
	store := testStore()
	store.existing = map[string]repository.ExistingRecord{
		dedup.Key("Asha Rao", "9876543210"): {ID: "42"},
	}
	service := testService(store, nil, Options{})

	report, err := service.Run(context.Background(), studentRequest(domain.DuplicateError, [][]string{
		{"Asha Rao", "9876543210", "", ""},
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	checkCounts(t, report)
	if report.Rejected != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if report.Rows[0].Errors[0].Kind != domain.ErrDuplicateConflict {
		t.Fatalf("expected DuplicateConflict, got %+v", report.Rows[0].Errors)
	}
	if len(store.created) != 0 || len(store.updated) != 0 {
		t.Fatalf("policy error must not write")
	}
}

func TestRunInFileDuplicatesEarlierRowWins(t *testing.T) {
	rows := [][]string{
		{"Asha Rao", "9876543210", "first@example.com", ""},
		{"ASHA RAO", "+91 98765 43210", "second@example.com", ""},
	}

	t.Run("skip", func(t *testing.T) {
		store := testStore()
		service := testService(store, nil, Options{})
		report, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, rows))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		checkCounts(t, report)
		if report.Imported != 1 || report.Skipped != 1 {
			t.Fatalf("unexpected counts: %+v", report)
		}
		if report.Rows[0].Disposition != domain.DispositionImported {
			t.Fatalf("first occurrence must win: %+v", report.Rows)
		}
	})

	t.Run("update", func(t *testing.T) {
		store := testStore()
		service := testService(store, nil, Options{})
		report, err := service.Run(context.Background(), studentRequest(domain.DuplicateUpdate, rows))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		checkCounts(t, report)
		if report.Imported != 1 || report.Updated != 1 {
			t.Fatalf("unexpected counts: %+v", report)
		}
		if len(store.updated) != 1 || store.updated[0].id != "n1" {
			t.Fatalf("second occurrence must update the row staged first: %+v", store.updated)
		}
	})

	t.Run("error", func(t *testing.T) {
		store := testStore()
		service := testService(store, nil, Options{})
		report, err := service.Run(context.Background(), studentRequest(domain.DuplicateError, rows))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		checkCounts(t, report)
		if report.Imported != 1 || report.Rejected != 1 {
			t.Fatalf("unexpected counts: %+v", report)
		}
	})
}

func batchRegistry() *schema.Registry {
	return schema.NewRegistry(schema.EntitySchema{
		Name: "batch",
		Fields: []domain.FieldDescriptor{
			{Name: "name", Kind: domain.FieldKindText, Required: true},
			{Name: "branch_id", Kind: domain.FieldKindInteger, Required: true},
			{Name: "status", Kind: domain.FieldKindText},
		},
		MatchKey: []string{"name", "branch_id"},
	})
}

func batchRequest(policy domain.DuplicatePolicy, rows [][]string) Request {
	return Request{
		EntityType: "batch",
		Policy:     policy,
		Headers:    []string{"name", "branch_id", "status"},
		Rows:       rows,
		FileName:   "batches.csv",
	}
}

func TestRunNumericMatchKeyVariantsFindExisting(t *testing.T) {
	// A stored branch_id of 5 renders as "5"; spreadsheet exports hand the
	// same value back as "5.0" or "05". All variants must hit the stored row.
	existing := map[string]repository.ExistingRecord{
		dedup.Key("Batch A", "5"): {ID: "9"},
	}

	t.Run("skip", func(t *testing.T) {
		store := testStore()
		store.existing = existing
		service := NewService(batchRegistry(), store, nil, Options{})

		report, err := service.Run(context.Background(), batchRequest(domain.DuplicateSkip, [][]string{
			{"Batch A", "5.0", ""},
			{"batch a", "05", ""},
		}))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		checkCounts(t, report)
		if report.Skipped != 2 || report.Imported != 0 {
			t.Fatalf("numeric variants must match the stored record: %+v", report)
		}
		if len(store.created) != 0 {
			t.Fatalf("skip policy re-import must not create duplicates, got %d creates", len(store.created))
		}
	})

	t.Run("update", func(t *testing.T) {
		store := testStore()
		store.existing = existing
		service := NewService(batchRegistry(), store, nil, Options{})

		report, err := service.Run(context.Background(), batchRequest(domain.DuplicateUpdate, [][]string{
			{"Batch A", "5.0", "Completed"},
		}))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		checkCounts(t, report)
		if report.Updated != 1 {
			t.Fatalf("unexpected counts: %+v", report)
		}
		if len(store.updated) != 1 || store.updated[0].id != "9" {
			t.Fatalf("update must target the stored record: %+v", store.updated)
		}
	})
}

func TestRunWithoutMatchKeyAppliesEveryRow(t *testing.T) {
	registry := schema.NewRegistry(schema.EntitySchema{
		Name: "payment",
		Fields: []domain.FieldDescriptor{
			{Name: "amount", Kind: domain.FieldKindDecimal, Required: true},
		},
	})
	store := testStore()
	service := NewService(registry, store, nil, Options{})

	report, err := service.Run(context.Background(), Request{
		EntityType: "payment",
		Policy:     domain.DuplicateSkip,
		Headers:    []string{"amount"},
		Rows:       [][]string{{"500"}, {"500"}},
		FileName:   "payments.csv",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	checkCounts(t, report)
	if report.Imported != 2 {
		t.Fatalf("identical rows must both apply without a match key: %+v", report)
	}
	if store.existCalls != 0 {
		t.Fatalf("no existing-record read may happen without a match key, got %d", store.existCalls)
	}
}

func TestRunUnknownEntityIsFatal(t *testing.T) {
	service := testService(testStore(), nil, Options{})
	req := studentRequest(domain.DuplicateSkip, nil)
	req.EntityType = "invoice"

	_, err := service.Run(context.Background(), req)
	var jobErr *domain.JobError
	if !errors.As(err, &jobErr) || jobErr.Code != domain.JobErrUnknownEntity {
		t.Fatalf("expected unknown_entity, got %v", err)
	}
}

func TestRunMissingColumnsIsFatal(t *testing.T) {
	store := testStore()
	service := testService(store, nil, Options{})
	req := studentRequest(domain.DuplicateSkip, [][]string{{"x"}})
	req.Headers = []string{"email"}

	_, err := service.Run(context.Background(), req)
	var jobErr *domain.JobError
	if !errors.As(err, &jobErr) || jobErr.Code != domain.JobErrMissingColumns {
		t.Fatalf("expected missing_columns, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("fatal mapping errors must abort before any write")
	}
}

func TestRunPreloadTimeoutIsFatal(t *testing.T) {
	store := testStore()
	store.refErr = context.DeadlineExceeded
	service := testService(store, nil, Options{PreloadTimeout: 50 * time.Millisecond})

	_, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, [][]string{
		{"Asha Rao", "9876543210", "", "Python Basics"},
	}))
	var jobErr *domain.JobError
	if !errors.As(err, &jobErr) || jobErr.Code != domain.JobErrPreloadTimeout {
		t.Fatalf("expected preload_timeout, got %v", err)
	}
}

func TestRunExistingFetchTimeoutIsFatal(t *testing.T) {
	store := testStore()
	store.existErr = context.DeadlineExceeded
	service := testService(store, nil, Options{})

	_, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, [][]string{
		{"Asha Rao", "9876543210", "", ""},
	}))
	var jobErr *domain.JobError
	if !errors.As(err, &jobErr) || jobErr.Code != domain.JobErrPreloadTimeout {
		t.Fatalf("expected preload_timeout, got %v", err)
	}
}

func TestRunStoreFailureRejectsOnlyThatRow(t *testing.T) {
	store := testStore()
	store.createErr = map[string]error{"Ravi Kumar": errors.New("disk full")}
	service := testService(store, nil, Options{})

	report, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, [][]string{
		{"Asha Rao", "9876543210", "", ""},
		{"Ravi Kumar", "9876501234", "", ""},
		{"Meena Iyer", "9876511111", "", ""},
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	checkCounts(t, report)
	if report.Imported != 2 || report.Rejected != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if report.Rows[1].Errors[0].Kind != domain.ErrSystemError {
		t.Fatalf("store failure must surface as SystemError: %+v", report.Rows[1].Errors)
	}
}

func TestRunCancellationSkipsRemainingRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := testStore()
	store.onCreate = cancel
	service := testService(store, nil, Options{})

	report, err := service.Run(ctx, studentRequest(domain.DuplicateSkip, [][]string{
		{"Asha Rao", "9876543210", "", ""},
		{"Ravi Kumar", "9876501234", "", ""},
		{"Meena Iyer", "9876511111", "", ""},
	}))
	if err != nil {
		t.Fatalf("cancellation must still yield a report: %v", err)
	}

	checkCounts(t, report)
	if report.Imported != 1 || report.Skipped != 2 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	for _, outcome := range report.Rows[1:] {
		if outcome.Disposition != domain.DispositionSkipped {
			t.Fatalf("rows after cancellation must be skipped: %+v", outcome)
		}
		if len(outcome.Errors) != 1 || outcome.Errors[0].Kind != domain.ErrSystemError {
			t.Fatalf("skipped rows must carry a SystemError note: %+v", outcome)
		}
	}
	if len(store.created) != 1 {
		t.Fatalf("no writes may happen after cancellation, got %d", len(store.created))
	}
}

func TestRunErrorCapTruncation(t *testing.T) {
	store := testStore()
	service := testService(store, nil, Options{ErrorCap: 3})

	// Each row fails on two fields; five rows produce ten errors against a
	// cap of three.
	var rows [][]string
	for i := 0; i < 5; i++ {
		rows = append(rows, []string{"", "bogus", "", ""})
	}

	report, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, rows))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	checkCounts(t, report)
	if !report.Truncated {
		t.Fatalf("expected truncated report")
	}
	if report.Rejected != 5 {
		t.Fatalf("rejected count must stay exact despite truncation: %+v", report)
	}
	total := 0
	for _, outcome := range report.Rows {
		if len(outcome.Errors) == 0 {
			t.Fatalf("every rejected row keeps at least one error: %+v", outcome)
		}
		total += len(outcome.Errors)
	}
	if total != 5 {
		t.Fatalf("expected one retained error per rejected row, got %d", total)
	}
}

func TestRunErrorCapNotTriggered(t *testing.T) {
	store := testStore()
	service := testService(store, nil, Options{ErrorCap: 100})

	report, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, [][]string{
		{"", "bogus", "", ""},
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Truncated {
		t.Fatalf("report under the cap must not be truncated")
	}
	if len(report.Rows[0].Errors) != 2 {
		t.Fatalf("expected both errors retained: %+v", report.Rows[0].Errors)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	store := testStore()
	history := &stubHistory{}
	service := testService(store, history, Options{})

	_, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, [][]string{
		{"Asha Rao", "9876543210", "", ""},
		{"", "bogus", "", ""},
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(history.entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history.entries))
	}
	entry := history.entries[0]
	if entry.Status != domain.ImportStatusPartial {
		t.Fatalf("run with rejects must be partial, got %s", entry.Status)
	}
	if entry.TotalRows != 2 || entry.Imported != 1 || entry.Rejected != 1 {
		t.Fatalf("unexpected history counts: %+v", entry)
	}
}

func TestRunHistoryFailureDoesNotAffectReport(t *testing.T) {
	store := testStore()
	history := &stubHistory{err: errors.New("history table missing")}
	service := testService(store, history, Options{})

	report, err := service.Run(context.Background(), studentRequest(domain.DuplicateSkip, [][]string{
		{"Asha Rao", "9876543210", "", ""},
	}))
	if err != nil {
		t.Fatalf("history failure must be swallowed: %v", err)
	}
	if report.Imported != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
