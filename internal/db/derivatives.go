package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const derivativeColumns = `id, file_id, job_id, kind, storage_key, mime, size_bytes, content_hash, created_at`

func scanDerivative(row pgx.Row) (*Derivative, error) {
	var d Derivative
	var kind string
	err := row.Scan(&d.ID, &d.FileID, &d.JobID, &kind, &d.StorageKey, &d.Mime, &d.SizeBytes, &d.ContentHash, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Kind = DerivativeKind(kind)
	return &d, nil
}

const insertDerivative = `
INSERT INTO derivatives (id, file_id, job_id, kind, storage_key, mime, size_bytes, content_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + derivativeColumns

type InsertDerivativeParams struct {
	ID          pgtype.UUID
	FileID      pgtype.UUID
	JobID       pgtype.UUID
	Kind        DerivativeKind
	StorageKey  string
	Mime        string
	SizeBytes   int64
	ContentHash string
}

// InsertDerivative is only ever called inside the finalize transaction.
func (q *Queries) InsertDerivative(ctx context.Context, arg *InsertDerivativeParams) (*Derivative, error) {
	row := q.db.QueryRow(ctx, insertDerivative,
		arg.ID, arg.FileID, arg.JobID, string(arg.Kind), arg.StorageKey, arg.Mime, arg.SizeBytes, arg.ContentHash)
	return scanDerivative(row)
}

const deleteDerivativesByFileID = `
DELETE FROM derivatives
WHERE file_id = $1
RETURNING ` + derivativeColumns

// DeleteDerivativesByFileID removes a file's previous derivative set and
// returns the removed rows so the caller can delete the stored objects.
// Runs inside the finalize transaction so readers switch from the old set
// to the new one atomically.
func (q *Queries) DeleteDerivativesByFileID(ctx context.Context, fileID pgtype.UUID) ([]*Derivative, error) {
	rows, err := q.db.Query(ctx, deleteDerivativesByFileID, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Derivative
	for rows.Next() {
		d, err := scanDerivative(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

const listDerivativesByFileID = `
SELECT ` + derivativeColumns + `
FROM derivatives
WHERE file_id = $1
ORDER BY kind`

func (q *Queries) ListDerivativesByFileID(ctx context.Context, fileID pgtype.UUID) ([]*Derivative, error) {
	rows, err := q.db.Query(ctx, listDerivativesByFileID, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Derivative
	for rows.Next() {
		d, err := scanDerivative(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
