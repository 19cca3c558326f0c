package repo

import (
	"context"
	"database/sql"

	"sunline/internal/domain"
)

const invoiceColumns = `id,project_id,external_id,number,COALESCE(issue_date,''),COALESCE(due_date,''),total_amount,is_paid,status,created_at,updated_at`

func scanInvoice(scan func(dest ...any) error) (domain.Invoice, error) {
	var inv domain.Invoice
	err := scan(&inv.ID, &inv.ProjectID, &inv.ExternalID, &inv.Number, &inv.IssueDate, &inv.DueDate,
		&inv.TotalAmount, &inv.IsPaid, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	return inv, err
}

func (r Repo) InsertInvoice(ctx context.Context, tx *sql.Tx, inv domain.Invoice) (domain.Invoice, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO invoices(project_id,external_id,number,issue_date,due_date,total_amount,is_paid,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		inv.ProjectID, inv.ExternalID, inv.Number, nullable(inv.IssueDate), nullable(inv.DueDate),
		inv.TotalAmount, inv.IsPaid, inv.Status, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return inv, err
	}
	inv.ID, err = res.LastInsertId()
	return inv, err
}

func (r Repo) GetInvoice(ctx context.Context, id int64) (domain.Invoice, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=?`, id)
	return scanInvoice(row.Scan)
}

func (r Repo) GetInvoiceByProject(ctx context.Context, projectID int64) (domain.Invoice, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE project_id=? ORDER BY id DESC LIMIT 1`, projectID)
	return scanInvoice(row.Scan)
}

// UpdateInvoicePayment refreshes the local payment cache from the
// provider's answer.
func (r Repo) UpdateInvoicePayment(ctx context.Context, tx *sql.Tx, id int64, isPaid bool, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE invoices SET is_paid=?, status=?, updated_at=? WHERE id=?`,
		isPaid, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UnpaidInvoicesByFirm lists every invoice of the firm whose local
// cache is not yet paid, for batch reconciliation.
func (r Repo) UnpaidInvoicesByFirm(ctx context.Context, firmID int64) ([]domain.Invoice, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT i.id,i.project_id,i.external_id,i.number,COALESCE(i.issue_date,''),COALESCE(i.due_date,''),i.total_amount,i.is_paid,i.status,i.created_at,i.updated_at
FROM invoices i JOIN projects p ON p.id=i.project_id
WHERE p.firm_id=? AND i.is_paid=0 ORDER BY i.id`, firmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}
