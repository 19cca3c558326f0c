package repo

import (
	"context"
	"database/sql"

	"sunline/internal/domain"
)

// ProjectHistory reads the audit log newest first, enriched with the
// acting user's display name and, for note_added rows, the note
// priority through the note_id key. Purely a read; never mutates.
func (r Repo) ProjectHistory(ctx context.Context, projectID int64) ([]domain.HistoryView, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT h.id,h.project_id,h.actor_id,h.change_type,h.field_name,h.old_value,h.new_value,h.description,h.snapshot_id,h.note_id,h.created_at,
COALESCE(a.display_name,''), n.priority
FROM project_history h
LEFT JOIN actors a ON a.id=h.actor_id
LEFT JOIN notes n ON n.id=h.note_id
WHERE h.project_id=?
ORDER BY h.created_at DESC, h.id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryView
	for rows.Next() {
		var v domain.HistoryView
		var fieldName, oldValue, newValue, priority sql.NullString
		var snapshotID, noteID sql.NullInt64
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.ActorID, &v.ChangeType, &fieldName, &oldValue, &newValue,
			&v.Description, &snapshotID, &noteID, &v.CreatedAt, &v.ActorName, &priority); err != nil {
			return nil, err
		}
		v.FieldName = strPtrFromNull(fieldName)
		v.OldValue = strPtrFromNull(oldValue)
		v.NewValue = strPtrFromNull(newValue)
		v.SnapshotID = intPtrFromNull(snapshotID)
		v.NoteID = intPtrFromNull(noteID)
		v.NotePriority = strPtrFromNull(priority)
		res = append(res, v)
	}
	return res, rows.Err()
}

// HistoryAfter pages committed history rows past a cursor id for the
// webhook dispatcher.
func (r Repo) HistoryAfter(ctx context.Context, limit int, afterID int64) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,actor_id,change_type,field_name,old_value,new_value,description,snapshot_id,note_id,created_at
FROM project_history WHERE id>? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var fieldName, oldValue, newValue sql.NullString
		var snapshotID, noteID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ActorID, &e.ChangeType, &fieldName, &oldValue, &newValue,
			&e.Description, &snapshotID, &noteID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FieldName = strPtrFromNull(fieldName)
		e.OldValue = strPtrFromNull(oldValue)
		e.NewValue = strPtrFromNull(newValue)
		e.SnapshotID = intPtrFromNull(snapshotID)
		e.NoteID = intPtrFromNull(noteID)
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestHistoryID seeds webhook cursors so a fresh dispatcher does not
// replay the whole log.
func (r Repo) LatestHistoryID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM project_history`).Scan(&id)
	return id.Int64, err
}

func (r Repo) CountHistory(ctx context.Context, projectID int64, changeType string) (int, error) {
	query := `SELECT COUNT(*) FROM project_history WHERE project_id=?`
	args := []any{projectID}
	if changeType != "" {
		query += ` AND change_type=?`
		args = append(args, changeType)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// ReclamationHistory reads the reclamation stream oldest first.
func (r Repo) ReclamationHistory(ctx context.Context, reclamationID int64) ([]domain.ReclamationHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,reclamation_id,action,actor_id,member_id,crew_id,COALESCE(notes,''),created_at
FROM reclamation_history WHERE reclamation_id=? ORDER BY created_at, id`, reclamationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReclamationHistoryEntry
	for rows.Next() {
		var e domain.ReclamationHistoryEntry
		var memberID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ReclamationID, &e.Action, &e.ActorID, &memberID, &e.CrewID, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.MemberID = intPtrFromNull(memberID)
		res = append(res, e)
	}
	return res, rows.Err()
}
