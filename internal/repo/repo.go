package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"sunline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertFirm(ctx context.Context, name string) (domain.Firm, error) {
	f := domain.Firm{Name: name, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO firms(name,created_at) VALUES (?,?)`, f.Name, f.CreatedAt)
	if err != nil {
		return f, err
	}
	f.ID, err = res.LastInsertId()
	return f, err
}

func (r Repo) GetFirm(ctx context.Context, id int64) (domain.Firm, error) {
	var f domain.Firm
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM firms WHERE id=?`, id).
		Scan(&f.ID, &f.Name, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) ListFirms(ctx context.Context) ([]domain.Firm, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM firms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Firm
	for rows.Next() {
		var f domain.Firm
		if err := rows.Scan(&f.ID, &f.Name, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// EnsureActor records an actor id with an optional display name so
// history reads can join a human-readable name.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, displayName string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `INSERT OR IGNORE INTO actors(id,display_name,created_at) VALUES (?,?,?)`,
		actorID, nullable(displayName), now); err != nil {
		return err
	}
	if displayName != "" {
		_, err := exec(ctx, `UPDATE actors SET display_name=? WHERE id=?`, displayName, actorID)
		return err
	}
	return nil
}

const projectColumns = `id,firm_id,lead_id,name,status,crew_id,equipment_expected_date,equipment_arrived_date,work_start_date,work_end_date,client_called,equipment_called,invoice_number,created_at,updated_at`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var crewID sql.NullInt64
	var eqExp, eqArr, wStart, wEnd, invNo sql.NullString
	err := scan(&p.ID, &p.FirmID, &p.LeadID, &p.Name, &p.Status, &crewID,
		&eqExp, &eqArr, &wStart, &wEnd, &p.ClientCalled, &p.EquipmentCalled, &invNo, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if crewID.Valid {
		p.CrewID = &crewID.Int64
	}
	p.EquipmentExpectedDate = strPtrFromNull(eqExp)
	p.EquipmentArrivedDate = strPtrFromNull(eqArr)
	p.WorkStartDate = strPtrFromNull(wStart)
	p.WorkEndDate = strPtrFromNull(wEnd)
	p.InvoiceNumber = strPtrFromNull(invNo)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) (domain.Project, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO projects(firm_id,lead_id,name,status,crew_id,equipment_expected_date,equipment_arrived_date,work_start_date,work_end_date,client_called,equipment_called,invoice_number,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.FirmID, p.LeadID, p.Name, p.Status, nullableInt(p.CrewID),
		nullableStr(p.EquipmentExpectedDate), nullableStr(p.EquipmentArrivedDate),
		nullableStr(p.WorkStartDate), nullableStr(p.WorkEndDate),
		p.ClientCalled, p.EquipmentCalled, nullableStr(p.InvoiceNumber), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.ID, err = res.LastInsertId()
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) ListProjects(ctx context.Context, firmID int64) ([]domain.Project, error) {
	clauses := []string{}
	args := []any{}
	if firmID > 0 {
		clauses = append(clauses, "firm_id=?")
		args = append(args, firmID)
	}
	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET lead_id=?,name=?,status=?,crew_id=?,equipment_expected_date=?,equipment_arrived_date=?,work_start_date=?,work_end_date=?,client_called=?,equipment_called=?,invoice_number=?,updated_at=? WHERE id=?`,
		p.LeadID, p.Name, p.Status, nullableInt(p.CrewID),
		nullableStr(p.EquipmentExpectedDate), nullableStr(p.EquipmentArrivedDate),
		nullableStr(p.WorkStartDate), nullableStr(p.WorkEndDate),
		p.ClientCalled, p.EquipmentCalled, nullableStr(p.InvoiceNumber), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProjectStatus is a conditional status write: it only applies when
// the row still holds fromStatus, so racing writers cannot clobber one
// another. Returns ErrNotFound when no row matched.
func (r Repo) SetProjectStatus(ctx context.Context, tx *sql.Tx, id int64, fromStatus, toStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=? AND status=?`,
		toStatus, updatedAt, id, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertNote(ctx context.Context, tx *sql.Tx, n domain.Note) (domain.Note, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO notes(project_id,author_id,body,priority,created_at) VALUES (?,?,?,?,?)`,
		n.ProjectID, n.AuthorID, n.Body, nullable(n.Priority), n.CreatedAt)
	if err != nil {
		return n, err
	}
	n.ID, err = res.LastInsertId()
	return n, err
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

func strPtrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtrFromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
