package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edusys/bulkimport/internal/dedup"
	"github.com/edusys/bulkimport/internal/domain"
)

// entityTable describes how one importable entity maps onto its table.
type entityTable struct {
	table    string
	matchKey []string
	// lookupCols maps a reference target key to the column it resolves
	// against.
	lookupCols map[string]string
	// attrCols are extra columns exposed to compound reference checks.
	attrCols []string
}

var entityTables = map[string]entityTable{
	"student": {
		table:      "students",
		matchKey:   []string{"full_name", "mobile"},
		lookupCols: map[string]string{"id": "id"},
	},
	"course": {
		table:      "courses",
		matchKey:   []string{"course_name"},
		lookupCols: map[string]string{"id": "id", "name": "course_name"},
	},
	"batch": {
		table:      "batches",
		matchKey:   []string{"name", "branch_id"},
		lookupCols: map[string]string{"id": "id"},
		attrCols:   []string{"branch_id", "course_id"},
	},
	"branch": {
		table:      "branches",
		lookupCols: map[string]string{"id": "id"},
	},
	"invoice": {
		table:      "invoices",
		matchKey:   []string{"student_id", "enrollment_date"},
		lookupCols: map[string]string{"id": "id"},
	},
	"installment": {
		table:      "installments",
		matchKey:   []string{"invoice_id", "due_date"},
		lookupCols: map[string]string{"id": "id"},
	},
	"payment": {
		table: "payments",
	},
}

// recordStore implements RecordStore over Postgres.
type recordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore creates the Postgres-backed record store.
func NewRecordStore(pool *pgxpool.Pool) RecordStore {
	return &recordStore{pool: pool}
}

// BulkFetchReference loads id and attributes for every stored record of the
// target whose lookup column matches one of keys, case-insensitively.
func (r *recordStore) BulkFetchReference(ctx context.Context, target domain.ReferenceTarget, keys []string) (map[string]ReferenceRow, error) {
	spec, ok := entityTables[target.Entity]
	if !ok {
		return nil, fmt.Errorf("no table registered for entity %q", target.Entity)
	}
	col, ok := spec.lookupCols[target.Key]
	if !ok {
		return nil, fmt.Errorf("entity %q has no lookup column for key %q", target.Entity, target.Key)
	}
	if len(keys) == 0 {
		return map[string]ReferenceRow{}, nil
	}

	normalized := make([]string, len(keys))
	for i, k := range keys {
		normalized[i] = domain.NormalizeKey(k)
	}

	cols := []string{"id::text", quoteIdent(col) + "::text"}
	for _, a := range spec.attrCols {
		cols = append(cols, quoteIdent(a)+"::text")
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE lower(trim(%s::text)) = ANY($1)",
		strings.Join(cols, ", "), quoteIdent(spec.table), quoteIdent(col),
	)

	rows, err := r.pool.Query(ctx, query, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s references: %w", target.Entity, err)
	}
	defer rows.Close()

	out := make(map[string]ReferenceRow)
	for rows.Next() {
		var id, key string
		attrVals := make([]*string, len(spec.attrCols))
		dest := []any{&id, &key}
		for i := range attrVals {
			dest = append(dest, &attrVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s reference: %w", target.Entity, err)
		}
		row := ReferenceRow{ID: id}
		if len(spec.attrCols) > 0 {
			row.Attrs = make(map[string]string, len(spec.attrCols))
			for i, a := range spec.attrCols {
				if attrVals[i] != nil {
					row.Attrs[a] = *attrVals[i]
				}
			}
		}
		out[key] = row
	}
	return out, rows.Err()
}

// BulkFetchExisting loads stored records whose match key is in matchKeys. The
// match key columns are read in one scan and keyed identically to the file
// side, so both sides compare equal.
func (r *recordStore) BulkFetchExisting(ctx context.Context, entityType string, matchKeys []string) (map[string]ExistingRecord, error) {
	spec, ok := entityTables[entityType]
	if !ok {
		return nil, fmt.Errorf("no table registered for entity %q", entityType)
	}
	if len(spec.matchKey) == 0 {
		return nil, fmt.Errorf("entity %q has no match key", entityType)
	}
	if len(matchKeys) == 0 {
		return map[string]ExistingRecord{}, nil
	}

	// Filter per match key column in SQL. The per-column sets admit a
	// cartesian superset of the wanted composite keys, so the exact key
	// check below still runs on the few rows that come back.
	wanted := make(map[string]struct{}, len(matchKeys))
	partSets := make([]map[string]struct{}, len(spec.matchKey))
	for i := range partSets {
		partSets[i] = make(map[string]struct{})
	}
	for _, k := range matchKeys {
		parts := dedup.SplitKey(k)
		if len(parts) != len(spec.matchKey) {
			continue
		}
		wanted[k] = struct{}{}
		for i, p := range parts {
			partSets[i][p] = struct{}{}
		}
	}

	cols := []string{"id::text"}
	conds := make([]string, len(spec.matchKey))
	args := make([]any, len(spec.matchKey))
	for i, c := range spec.matchKey {
		cols = append(cols, quoteIdent(c)+"::text")
		conds[i] = fmt.Sprintf("lower(trim(%s::text)) = ANY($%d)", quoteIdent(c), i+1)
		vals := make([]string, 0, len(partSets[i]))
		for p := range partSets[i] {
			vals = append(vals, p)
		}
		sort.Strings(vals)
		args[i] = vals
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(cols, ", "), quoteIdent(spec.table), strings.Join(conds, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch existing %s records: %w", entityType, err)
	}
	defer rows.Close()

	out := make(map[string]ExistingRecord)
	for rows.Next() {
		var id string
		parts := make([]*string, len(spec.matchKey))
		dest := []any{&id}
		for i := range parts {
			dest = append(dest, &parts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan existing %s record: %w", entityType, err)
		}
		values := make([]string, len(parts))
		for i, p := range parts {
			if p != nil {
				values[i] = *p
			}
		}
		key := dedup.Key(values...)
		if _, ok := wanted[key]; ok {
			out[key] = ExistingRecord{ID: id}
		}
	}
	return out, rows.Err()
}

// Create inserts a new record built from the validated field values.
func (r *recordStore) Create(ctx context.Context, entityType string, record domain.Record) (string, error) {
	spec, ok := entityTables[entityType]
	if !ok {
		return "", fmt.Errorf("no table registered for entity %q", entityType)
	}

	names := sortedFields(record)
	cols := make([]string, len(names))
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		cols[i] = quoteIdent(name)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = record[name].Native()
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id::text",
		quoteIdent(spec.table), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	var id string
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to insert %s: %w", entityType, err)
	}
	return id, nil
}

// Update overwrites the given fields of an existing record.
func (r *recordStore) Update(ctx context.Context, entityType string, id string, fields domain.Record) error {
	spec, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("no table registered for entity %q", entityType)
	}
	if len(fields) == 0 {
		return nil
	}

	names := sortedFields(fields)
	assignments := make([]string, len(names))
	args := []any{id}
	for i, name := range names {
		assignments[i] = fmt.Sprintf("%s = $%d", quoteIdent(name), i+2)
		args = append(args, fields[name].Native())
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id::text = $1",
		quoteIdent(spec.table), strings.Join(assignments, ", "),
	)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", entityType, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s not found", entityType, id)
	}
	return nil
}

func sortedFields(record domain.Record) []string {
	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// quoteIdent quotes a SQL identifier. Field names come from the static schema
// catalog, never from user input; quoting guards against reserved words.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
