package history

import (
	"context"
	"database/sql"
	"time"

	"sunline/internal/domain"
)

// Writer appends audit rows inside the caller's transaction. Every
// state-changing engine operation commits its history rows atomically
// with the entity mutation.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append inserts one project history row. Rows are never updated or
// deleted afterwards.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.HistoryEntry) (domain.HistoryEntry, error) {
	e.CreatedAt = w.now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `INSERT INTO project_history(project_id,actor_id,change_type,field_name,old_value,new_value,description,snapshot_id,note_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ProjectID, e.ActorID, e.ChangeType, nullableStr(e.FieldName), nullableStr(e.OldValue), nullableStr(e.NewValue),
		e.Description, nullableInt(e.SnapshotID), nullableInt(e.NoteID), e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.ID, err = res.LastInsertId()
	return e, err
}

// AppendReclamation inserts one reclamation history row.
func (w Writer) AppendReclamation(ctx context.Context, tx *sql.Tx, e domain.ReclamationHistoryEntry) (domain.ReclamationHistoryEntry, error) {
	e.CreatedAt = w.now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `INSERT INTO reclamation_history(reclamation_id,action,actor_id,member_id,crew_id,notes,created_at)
VALUES (?,?,?,?,?,?,?)`,
		e.ReclamationID, e.Action, e.ActorID, nullableInt(e.MemberID), e.CrewID, nullable(e.Notes), e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.ID, err = res.LastInsertId()
	return e, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
