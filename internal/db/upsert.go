package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertSpec describes a bulk upsert into one table.
type UpsertSpec struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns supplied by each row, in order
	ConflictKeys []string // columns of the unique constraint
	UpdateCols   []string // columns overwritten on conflict; nil means every non-key column
}

// BulkUpsert stages rows in a temp table with COPY and merges them with one
// INSERT ... ON CONFLICT DO UPDATE, all in a single transaction.
func BulkUpsert(ctx context.Context, pool Pool, spec UpsertSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(spec.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(spec.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := "_stage_" + strings.ReplaceAll(spec.Table, ".", "_")
	if _, err := tx.Exec(ctx, stagingSQL(staging, spec.Table)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", spec.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, spec.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into %s", staging)
	}

	tag, err := tx.Exec(ctx, mergeSQL(staging, spec))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", spec.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func stagingSQL(staging, table string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), quoteTable(table))
}

func mergeSQL(staging string, spec UpsertSpec) string {
	cols := quoteList(spec.Columns)

	sets := make([]string, 0, len(spec.Columns))
	for _, c := range updateColumns(spec) {
		q := pgx.Identifier{c}.Sanitize()
		sets = append(sets, q+" = EXCLUDED."+q)
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		quoteTable(spec.Table), cols, cols, pgx.Identifier{staging}.Sanitize(),
		quoteList(spec.ConflictKeys), action)
}

func updateColumns(spec UpsertSpec) []string {
	if spec.UpdateCols != nil {
		return spec.UpdateCols
	}
	keys := make(map[string]struct{}, len(spec.ConflictKeys))
	for _, k := range spec.ConflictKeys {
		keys[k] = struct{}{}
	}
	var cols []string
	for _, c := range spec.Columns {
		if _, ok := keys[c]; !ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// quoteTable sanitizes a table name, honoring a schema prefix.
func quoteTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
