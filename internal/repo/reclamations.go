package repo

import (
	"context"
	"database/sql"

	"sunline/internal/domain"
)

const reclamationColumns = `id,project_id,firm_id,description,deadline,status,original_crew_id,current_crew_id,created_by,completion_notes,created_at,updated_at`

func scanReclamation(scan func(dest ...any) error) (domain.Reclamation, error) {
	var rec domain.Reclamation
	var notes sql.NullString
	err := scan(&rec.ID, &rec.ProjectID, &rec.FirmID, &rec.Description, &rec.Deadline, &rec.Status,
		&rec.OriginalCrewID, &rec.CurrentCrewID, &rec.CreatedBy, &notes, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.CompletionNotes = strPtrFromNull(notes)
	return rec, nil
}

func (r Repo) InsertReclamation(ctx context.Context, tx *sql.Tx, rec domain.Reclamation) (domain.Reclamation, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO reclamations(project_id,firm_id,description,deadline,status,original_crew_id,current_crew_id,created_by,completion_notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ProjectID, rec.FirmID, rec.Description, rec.Deadline, rec.Status,
		rec.OriginalCrewID, rec.CurrentCrewID, rec.CreatedBy, nullableStr(rec.CompletionNotes), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	rec.ID, err = res.LastInsertId()
	return rec, err
}

func (r Repo) GetReclamation(ctx context.Context, id int64) (domain.Reclamation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reclamationColumns+` FROM reclamations WHERE id=?`, id)
	return scanReclamation(row.Scan)
}

func (r Repo) GetReclamationTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Reclamation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reclamationColumns+` FROM reclamations WHERE id=?`, id)
	return scanReclamation(row.Scan)
}

// TransitionReclamation is the compare-and-swap at the heart of the
// reclamation workflow: the UPDATE applies only while the row still
// matches the expected status (and, when expectCrew > 0, the expected
// current crew). Exactly one of two racing callers can win; the loser
// sees zero rows affected and must re-read.
func (r Repo) TransitionReclamation(ctx context.Context, tx *sql.Tx, id int64, expectStatus string, expectCrew int64, set domain.Reclamation) (bool, error) {
	query := `UPDATE reclamations SET status=?, current_crew_id=?, completion_notes=?, updated_at=? WHERE id=? AND status=?`
	args := []any{set.Status, set.CurrentCrewID, nullableStr(set.CompletionNotes), set.UpdatedAt, id, expectStatus}
	if expectCrew > 0 {
		query += ` AND current_crew_id=?`
		args = append(args, expectCrew)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AssignedReclamations: claims the crew currently holds and must act
// on. Disjoint from AvailableReclamations by status.
func (r Repo) AssignedReclamations(ctx context.Context, crewID int64) ([]domain.Reclamation, error) {
	return r.listReclamations(ctx, `SELECT `+reclamationColumns+` FROM reclamations
WHERE current_crew_id=? AND status IN ('pending','accepted','in_progress') ORDER BY deadline, id`, crewID)
}

// AvailableReclamations: claims rejected by some other crew, open for
// this crew to take.
func (r Repo) AvailableReclamations(ctx context.Context, crewID int64) ([]domain.Reclamation, error) {
	return r.listReclamations(ctx, `SELECT `+reclamationColumns+` FROM reclamations
WHERE status='rejected' AND current_crew_id<>? ORDER BY deadline, id`, crewID)
}

func (r Repo) ListReclamationsByFirm(ctx context.Context, firmID int64) ([]domain.Reclamation, error) {
	return r.listReclamations(ctx, `SELECT `+reclamationColumns+` FROM reclamations WHERE firm_id=? ORDER BY created_at DESC, id DESC`, firmID)
}

func (r Repo) listReclamations(ctx context.Context, query string, args ...any) ([]domain.Reclamation, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reclamation
	for rows.Next() {
		rec, err := scanReclamation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
