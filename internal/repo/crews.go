package repo

import (
	"context"
	"database/sql"

	"sunline/internal/domain"
)

func (r Repo) InsertCrew(ctx context.Context, c domain.Crew) (domain.Crew, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO crews(firm_id,name,number,archived,created_at) VALUES (?,?,?,?,?)`,
		c.FirmID, c.Name, c.Number, c.Archived, c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

func (r Repo) GetCrew(ctx context.Context, id int64) (domain.Crew, error) {
	var c domain.Crew
	err := r.DB.QueryRowContext(ctx, `SELECT id,firm_id,name,number,archived,created_at FROM crews WHERE id=?`, id).
		Scan(&c.ID, &c.FirmID, &c.Name, &c.Number, &c.Archived, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCrews(ctx context.Context, firmID int64, includeArchived bool) ([]domain.Crew, error) {
	query := `SELECT id,firm_id,name,number,archived,created_at FROM crews WHERE firm_id=?`
	if !includeArchived {
		query += ` AND archived=0`
	}
	query += ` ORDER BY number`
	rows, err := r.DB.QueryContext(ctx, query, firmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Crew
	for rows.Next() {
		var c domain.Crew
		if err := rows.Scan(&c.ID, &c.FirmID, &c.Name, &c.Number, &c.Archived, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCrew(ctx context.Context, c domain.Crew) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE crews SET name=?,number=?,archived=? WHERE id=?`,
		c.Name, c.Number, c.Archived, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertCrewMember(ctx context.Context, m domain.CrewMember) (domain.CrewMember, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO crew_members(crew_id,name,email,phone,role,actor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.CrewID, m.Name, nullable(m.Email), nullable(m.Phone), nullable(m.Role), nullableStr(m.ActorID), m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.ID, err = res.LastInsertId()
	return m, err
}

func (r Repo) UpdateCrewMember(ctx context.Context, m domain.CrewMember) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE crew_members SET name=?,email=?,phone=?,role=?,actor_id=? WHERE id=?`,
		m.Name, nullable(m.Email), nullable(m.Phone), nullable(m.Role), nullableStr(m.ActorID), m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCrewMember(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM crew_members WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMember(scan func(dest ...any) error) (domain.CrewMember, error) {
	var m domain.CrewMember
	var email, phone, role, actorID sql.NullString
	err := scan(&m.ID, &m.CrewID, &m.Name, &email, &phone, &role, &actorID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if email.Valid {
		m.Email = email.String
	}
	if phone.Valid {
		m.Phone = phone.String
	}
	if role.Valid {
		m.Role = role.String
	}
	m.ActorID = strPtrFromNull(actorID)
	return m, nil
}

func (r Repo) GetCrewMember(ctx context.Context, id int64) (domain.CrewMember, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,crew_id,name,email,phone,role,actor_id,created_at FROM crew_members WHERE id=?`, id)
	return scanMember(row.Scan)
}

// ListCrewMembers returns members in insertion order; snapshots rely on
// this ordering being stable.
func (r Repo) ListCrewMembers(ctx context.Context, crewID int64) ([]domain.CrewMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,crew_id,name,email,phone,role,actor_id,created_at FROM crew_members WHERE crew_id=? ORDER BY id`, crewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CrewMember
	for rows.Next() {
		m, err := scanMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MemberForActor resolves the crew membership of an authenticated
// actor. Archived crews are excluded.
func (r Repo) MemberForActor(ctx context.Context, actorID string) (domain.CrewMember, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT m.id,m.crew_id,m.name,m.email,m.phone,m.role,m.actor_id,m.created_at
FROM crew_members m JOIN crews c ON c.id=m.crew_id
WHERE m.actor_id=? AND c.archived=0 LIMIT 1`, actorID)
	return scanMember(row.Scan)
}
