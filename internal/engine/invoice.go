package engine

import (
	"context"
	"errors"
	"fmt"

	"sunline/internal/domain"
	"sunline/internal/provider"
	"sunline/internal/repo"
)

// InvoiceCreateOptions are parameters for issuing an invoice through
// the external provider.
type InvoiceCreateOptions struct {
	ProjectID int64
	Amount    float64
	DueDate   string
}

// CreateInvoice issues an invoice for a completed project. The provider
// call happens before the local transaction; if the local write fails
// afterwards the invoice exists remotely and reconciliation will not
// find it, so the caller should retry against the provider's number.
func (e Engine) CreateInvoice(ctx context.Context, opts InvoiceCreateOptions, actor domain.Actor) (domain.Invoice, error) {
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleProjectLead {
		return domain.Invoice{}, AuthorizationError{ActorID: actor.ID, Reason: "only admin or project-lead may create invoices"}
	}
	if opts.Amount <= 0 {
		return domain.Invoice{}, ValidationError{Field: "amount", Reason: "must be positive"}
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := requireFirm(actor, p.FirmID); err != nil {
		return domain.Invoice{}, err
	}
	if !domain.CompletedLike(p.Status) {
		return domain.Invoice{}, TransitionError{Entity: "project", From: p.Status, To: domain.StatusInvoiced}
	}
	if _, err := e.Repo.GetInvoiceByProject(ctx, p.ID); err == nil {
		return domain.Invoice{}, ConflictError{Entity: "invoice", ID: p.ID, Expected: "none"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Invoice{}, err
	}

	pp, err := e.paymentProvider()
	if err != nil {
		return domain.Invoice{}, UpstreamError{Op: "create invoice", Err: err}
	}
	created, err := pp.CreateInvoice(ctx, provider.CreateInvoiceRequest{
		ProjectRef: fmt.Sprintf("project-%d", p.ID),
		Amount:     opts.Amount,
		DueDate:    opts.DueDate,
	})
	if err != nil {
		return domain.Invoice{}, UpstreamError{Op: "create invoice", Err: err}
	}

	now := e.nowStr()
	inv := domain.Invoice{
		ProjectID:   p.ID,
		ExternalID:  created.ID,
		Number:      created.Number,
		DueDate:     opts.DueDate,
		TotalAmount: opts.Amount,
		IsPaid:      false,
		Status:      "open",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return inv, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return inv, err
	}
	inv, err = e.Repo.InsertInvoice(ctx, tx, inv)
	if err != nil {
		return inv, err
	}
	// Only a project still at work_completed advances to invoiced; a
	// project already further along the billing track keeps its status.
	fromStatus := p.Status
	p.InvoiceNumber = strPtr(created.Number)
	if fromStatus == domain.StatusWorkCompleted {
		p.Status = domain.StatusInvoiced
	}
	p.UpdatedAt = now
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return inv, err
	}
	if fromStatus == domain.StatusWorkCompleted {
		if _, err := e.History.Append(ctx, tx, domain.HistoryEntry{
			ProjectID:   p.ID,
			ActorID:     actor.ID,
			ChangeType:  domain.ChangeStatus,
			FieldName:   strPtr("status"),
			OldValue:    strPtr(fromStatus),
			NewValue:    strPtr(domain.StatusInvoiced),
			Description: fmt.Sprintf("Status changed from %s to %s", domain.StatusLabel(fromStatus), domain.StatusLabel(domain.StatusInvoiced)),
		}); err != nil {
			return inv, err
		}
	}
	if _, err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProjectID:   p.ID,
		ActorID:     actor.ID,
		ChangeType:  domain.ChangeInfo,
		FieldName:   strPtr("invoice_number"),
		NewValue:    strPtr(created.Number),
		Description: fmt.Sprintf("Invoice %s issued", created.Number),
	}); err != nil {
		return inv, err
	}
	if err := tx.Commit(); err != nil {
		return inv, err
	}
	return inv, nil
}

// MarkInvoicePaid records payment on the provider side and mirrors it
// locally. Admin-only, like the paid status transition itself.
func (e Engine) MarkInvoicePaid(ctx context.Context, invoiceID int64, actor domain.Actor) (domain.Invoice, error) {
	if !actor.IsAdmin() {
		return domain.Invoice{}, AuthorizationError{ActorID: actor.ID, Reason: "only admin may mark invoices paid"}
	}
	inv, err := e.Repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return inv, err
	}
	if inv.IsPaid {
		return inv, nil
	}
	pp, err := e.paymentProvider()
	if err != nil {
		return inv, UpstreamError{Op: "mark paid", Err: err}
	}
	if err := pp.MarkPaid(ctx, inv.ExternalID); err != nil {
		return inv, UpstreamError{Op: "mark paid", Err: err}
	}
	if err := e.applyPayment(ctx, inv, "paid", actor.ID); err != nil {
		return inv, err
	}
	return e.Repo.GetInvoice(ctx, invoiceID)
}

// paymentProvider guards every provider call so a workspace without a
// configured provider gets a clean upstream error instead of a panic.
func (e Engine) paymentProvider() (provider.PaymentProvider, error) {
	if e.Provider == nil {
		return nil, errors.New("payment provider not configured")
	}
	return e.Provider, nil
}

// applyPayment mirrors a confirmed payment into the invoice row and,
// when the project is still in the billing track, moves it to paid.
// Idempotent: an already-paid project only refreshes the invoice cache.
func (e Engine) applyPayment(ctx context.Context, inv domain.Invoice, providerStatus, actorID string) error {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, ""); err != nil {
		return err
	}
	if err := e.Repo.UpdateInvoicePayment(ctx, tx, inv.ID, true, providerStatus, now); err != nil {
		return err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, inv.ProjectID)
	if err != nil {
		return err
	}
	if p.Status != domain.StatusPaid && domain.CompletedLike(p.Status) {
		if err := e.Repo.SetProjectStatus(ctx, tx, p.ID, p.Status, domain.StatusPaid, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ConflictError{Entity: "project", ID: p.ID, Expected: p.Status}
			}
			return err
		}
		if _, err := e.History.Append(ctx, tx, domain.HistoryEntry{
			ProjectID:   p.ID,
			ActorID:     actorID,
			ChangeType:  domain.ChangeStatus,
			FieldName:   strPtr("status"),
			OldValue:    strPtr(p.Status),
			NewValue:    strPtr(domain.StatusPaid),
			Description: fmt.Sprintf("Status changed from %s to %s", domain.StatusLabel(p.Status), domain.StatusLabel(domain.StatusPaid)),
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ProjectInvoice returns the invoice attached to a project, scoped to
// the actor's firms.
func (e Engine) ProjectInvoice(ctx context.Context, projectID int64, actor domain.Actor) (domain.Invoice, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := requireFirm(actor, p.FirmID); err != nil {
		return domain.Invoice{}, err
	}
	return e.Repo.GetInvoiceByProject(ctx, projectID)
}
