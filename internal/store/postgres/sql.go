package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kettleplane/internal/errs"
	"kettleplane/internal/store"
)

// DefaultVersionLimit is used when ListSqlVersions is called without a positive limit.
const DefaultVersionLimit = 10

// usageLimit caps FindSqlUsage results.
const usageLimit = 40

// ListSqlSteps returns the TableInput steps of a transformation with their query text.
// Test, backup and scratch copies of a step are left out.
func (s *Store) ListSqlSteps(ctx context.Context, transformationName string) ([]store.SqlAttribute, error) {
	query := `
		SELECT rs."NAME", rsa.VALUE_STR
		FROM R_STEP rs
		JOIN R_TRANSFORMATION rt ON rs.ID_TRANSFORMATION = rt.ID_TRANSFORMATION
		JOIN R_STEP_ATTRIBUTE rsa ON rs.ID_STEP = rsa.ID_STEP
		JOIN R_STEP_TYPE rst ON rs.ID_STEP_TYPE = rst.ID_STEP_TYPE
		WHERE rt."NAME" = $1
			AND rst.CODE = 'TableInput'
			AND rsa.CODE = 'sql'
			AND rs."NAME" !~ '(_test|_TEST)'
			AND rs."NAME" !~ '(_OLD|_COPY|_TEMP|_TMP|_BCKP)$'
		ORDER BY rs."NAME"
	`

	rows, err := s.db.QueryContext(ctx, query, transformationName)
	if err != nil {
		return nil, fmt.Errorf("failed to list sql steps of %s: %w", transformationName, err)
	}
	defer rows.Close()

	var steps []store.SqlAttribute
	for rows.Next() {
		var (
			step string
			text sql.NullString
		)
		if err := rows.Scan(&step, &text); err != nil {
			return nil, fmt.Errorf("failed to scan sql step: %w", err)
		}
		steps = append(steps, store.SqlAttribute{
			TransformationName: transformationName,
			StepName:           step,
			CurrentText:        text.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql step rows error: %w", err)
	}

	return steps, nil
}

// ReplaceSql archives the step's current text into BOT_SQL_HISTORY and then
// overwrites R_STEP_ATTRIBUTE. Both writes commit together or not at all.
func (s *Store) ReplaceSql(ctx context.Context, transformationName, stepName, newText, actor string) error {
	const op = "replace sql"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.E(op, errs.ErrPersistence, "could not start transaction", err)
	}
	defer tx.Rollback()

	var (
		attrID  int64
		oldText sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		SELECT rsa.ID_STEP_ATTRIBUTE, rsa.VALUE_STR
		FROM R_STEP rs
		JOIN R_TRANSFORMATION rt ON rs.ID_TRANSFORMATION = rt.ID_TRANSFORMATION
		JOIN R_STEP_ATTRIBUTE rsa ON rs.ID_STEP = rsa.ID_STEP
		WHERE rt."NAME" = $1 AND rs."NAME" = $2 AND rsa.CODE = 'sql'
	`, transformationName, stepName).Scan(&attrID, &oldText)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.E(op, errs.ErrNotFound, "Step not found or no SQL attribute.", nil)
	}
	if err != nil {
		return errs.E(op, errs.ErrPersistence, pqDetail(err), err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO BOT_SQL_HISTORY (TRANS_NAME, STEP_NAME, OLD_SQL, CHANGED_BY)
		VALUES ($1, $2, $3, $4)
	`, transformationName, stepName, oldText.String, actor)
	if err != nil {
		return errs.E(op, errs.ErrPersistence, "failed to archive previous text", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE R_STEP_ATTRIBUTE SET VALUE_STR = $1 WHERE ID_STEP_ATTRIBUTE = $2`,
		newText, attrID,
	)
	if err != nil {
		return errs.E(op, errs.ErrPersistence, "failed to update step text", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.E(op, errs.ErrPersistence, "failed to commit", err)
	}
	return nil
}

// ListSqlVersions returns up to limit archived versions, newest first.
func (s *Store) ListSqlVersions(ctx context.Context, transformationName, stepName string, limit int) ([]store.SqlVersion, error) {
	if limit <= 0 {
		limit = DefaultVersionLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ID, TRANS_NAME, STEP_NAME, OLD_SQL, CHANGED_BY, CHANGED_AT
		FROM BOT_SQL_HISTORY
		WHERE TRANS_NAME = $1 AND STEP_NAME = $2
		ORDER BY CHANGED_AT DESC
		LIMIT $3
	`, transformationName, stepName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sql versions: %w", err)
	}
	defer rows.Close()

	var versions []store.SqlVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sql version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql version rows error: %w", err)
	}

	return versions, nil
}

// GetSqlVersion returns one archived version by id.
func (s *Store) GetSqlVersion(ctx context.Context, id int64) (*store.SqlVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ID, TRANS_NAME, STEP_NAME, OLD_SQL, CHANGED_BY, CHANGED_AT
		FROM BOT_SQL_HISTORY
		WHERE ID = $1
	`, id)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E("read version", errs.ErrNotFound, fmt.Sprintf("version %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sql version %d: %w", id, err)
	}
	return v, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(r rowScanner) (*store.SqlVersion, error) {
	var (
		v       store.SqlVersion
		oldText sql.NullString
	)
	if err := r.Scan(&v.ID, &v.TransformationName, &v.StepName, &oldText, &v.ChangedBy, &v.ChangedAt); err != nil {
		return nil, err
	}
	v.PreviousText = oldText.String
	return &v, nil
}

// FindSqlUsage returns steps whose query text contains term, ignoring case.
func (s *Store) FindSqlUsage(ctx context.Context, term string) ([]store.SqlUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT rt.ID_DIRECTORY, rt."NAME", rs."NAME"
		FROM R_TRANSFORMATION rt
		JOIN R_STEP rs ON rt.ID_TRANSFORMATION = rs.ID_TRANSFORMATION
		JOIN R_STEP_ATTRIBUTE rsa ON rs.ID_STEP = rsa.ID_STEP
		WHERE rsa.CODE = 'sql' AND rsa.VALUE_STR ILIKE $1
		ORDER BY rt."NAME"
		LIMIT $2
	`, "%"+term+"%", usageLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search sql usage: %w", err)
	}
	defer rows.Close()

	var out []store.SqlUsage
	for rows.Next() {
		var (
			u   store.SqlUsage
			dir sql.NullInt64
		)
		if err := rows.Scan(&dir, &u.TransformationName, &u.StepName); err != nil {
			return nil, fmt.Errorf("failed to scan sql usage: %w", err)
		}
		u.DirectoryID = dir.Int64
		out = append(out, u)
	}
	return out, rows.Err()
}
