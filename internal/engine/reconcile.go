package engine

import (
	"context"

	"sunline/internal/domain"
)

// ReconcileReport summarizes a batch reconciliation run. Failures are
// collected per invoice; one broken provider call never aborts the rest.
type ReconcileReport struct {
	Checked  int              `json:"checked"`
	Updated  int              `json:"updated"`
	Failures []InvoiceFailure `json:"failures,omitempty"`
}

type InvoiceFailure struct {
	InvoiceID int64  `json:"invoice_id"`
	Number    string `json:"number"`
	Error     string `json:"error"`
}

// ReconcileInvoice asks the provider whether an invoice has been paid
// and mirrors the answer locally. Returns whether anything changed.
// Safe to call repeatedly: an already-synced invoice is a no-op and
// writes no history.
func (e Engine) ReconcileInvoice(ctx context.Context, invoiceID int64, actor domain.Actor) (bool, error) {
	inv, err := e.Repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return false, err
	}
	p, err := e.Repo.GetProject(ctx, inv.ProjectID)
	if err != nil {
		return false, err
	}
	if err := requireFirm(actor, p.FirmID); err != nil {
		return false, err
	}
	if inv.IsPaid {
		return false, nil
	}
	pp, err := e.paymentProvider()
	if err != nil {
		return false, UpstreamError{Op: "check payment status", Err: err}
	}
	st, err := pp.CheckPaymentStatus(ctx, inv.ExternalID)
	if err != nil {
		return false, UpstreamError{Op: "check payment status", Err: err}
	}
	if !st.IsPaid {
		// Still unpaid, but the provider-side status string may have
		// moved (open -> overdue, disputed, ...). Mirror it into the
		// local cache without touching payment state or the project.
		if st.Status == "" || st.Status == inv.Status {
			return false, nil
		}
		if err := e.refreshInvoiceStatus(ctx, inv.ID, st.Status); err != nil {
			return false, err
		}
		return true, nil
	}
	// The provider is authoritative. Writes land under the reserved
	// system actor so the audit trail shows the source.
	if err := e.applyPayment(ctx, inv, st.Status, domain.SystemActorID); err != nil {
		return false, err
	}
	return true, nil
}

func (e Engine) refreshInvoiceStatus(ctx context.Context, invoiceID int64, status string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateInvoicePayment(ctx, tx, invoiceID, false, status, e.nowStr()); err != nil {
		return err
	}
	return tx.Commit()
}

// ReconcileFirm sweeps every locally-unpaid invoice of a firm against
// the provider.
func (e Engine) ReconcileFirm(ctx context.Context, firmID int64, actor domain.Actor) (ReconcileReport, error) {
	var report ReconcileReport
	if err := requireFirm(actor, firmID); err != nil {
		return report, err
	}
	invoices, err := e.Repo.UnpaidInvoicesByFirm(ctx, firmID)
	if err != nil {
		return report, err
	}
	for _, inv := range invoices {
		report.Checked++
		updated, err := e.ReconcileInvoice(ctx, inv.ID, actor)
		if err != nil {
			report.Failures = append(report.Failures, InvoiceFailure{
				InvoiceID: inv.ID,
				Number:    inv.Number,
				Error:     err.Error(),
			})
			continue
		}
		if updated {
			report.Updated++
		}
	}
	return report, nil
}
