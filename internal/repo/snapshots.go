package repo

import (
	"context"
	"database/sql"

	"sunline/internal/domain"
)

// InsertSnapshot persists a crew snapshot. Snapshots are insert-only;
// there is deliberately no update or delete counterpart.
func (r Repo) InsertSnapshot(ctx context.Context, tx *sql.Tx, s domain.CrewSnapshot) (domain.CrewSnapshot, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO crew_snapshots(project_id,crew_id,crew_json,members_json,created_by,created_at)
VALUES (?,?,?,?,?,?)`,
		s.ProjectID, s.CrewID, s.CrewJSON, s.MembersJSON, s.CreatedBy, s.CreatedAt)
	if err != nil {
		return s, err
	}
	s.ID, err = res.LastInsertId()
	return s, err
}

func scanSnapshot(scan func(dest ...any) error) (domain.CrewSnapshot, error) {
	var s domain.CrewSnapshot
	err := scan(&s.ID, &s.ProjectID, &s.CrewID, &s.CrewJSON, &s.MembersJSON, &s.CreatedBy, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSnapshot(ctx context.Context, id int64) (domain.CrewSnapshot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,crew_id,crew_json,members_json,created_by,created_at FROM crew_snapshots WHERE id=?`, id)
	return scanSnapshot(row.Scan)
}

func (r Repo) ListSnapshots(ctx context.Context, projectID int64) ([]domain.CrewSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,crew_id,crew_json,members_json,created_by,created_at FROM crew_snapshots WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CrewSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
