package domain_test

import (
	"testing"

	"sunline/internal/domain"
)

func TestStatusRank(t *testing.T) {
	if !domain.StatusAtLeast(domain.StatusPaid, domain.StatusInvoiced) {
		t.Fatal("paid should rank at least invoiced")
	}
	if domain.StatusAtLeast(domain.StatusPlanning, domain.StatusInvoiced) {
		t.Fatal("planning should not rank at least invoiced")
	}
	// Side states sit outside the linear run.
	if domain.StatusRank(domain.StatusReclamation) != -1 || domain.StatusRank(domain.StatusDone) != -1 {
		t.Fatal("side states should have no rank")
	}
	if domain.StatusAtLeast(domain.StatusReclamation, domain.StatusPlanning) {
		t.Fatal("unranked status should never satisfy at-least")
	}
}

func TestCompletedLike(t *testing.T) {
	for _, s := range []string{
		domain.StatusWorkCompleted,
		domain.StatusInvoiced,
		domain.StatusSendInvoice,
		domain.StatusInvoiceSent,
		domain.StatusPaid,
	} {
		if !domain.CompletedLike(s) {
			t.Fatalf("%s should be completed-like", s)
		}
	}
	for _, s := range []string{domain.StatusPlanning, domain.StatusWorkInProgress, domain.StatusReclamation, domain.StatusDone} {
		if domain.CompletedLike(s) {
			t.Fatalf("%s should not be completed-like", s)
		}
	}
}

func TestStatusLabelFallback(t *testing.T) {
	if domain.StatusLabel(domain.StatusSendInvoice) != "Invoice to send" {
		t.Fatalf("label = %s", domain.StatusLabel(domain.StatusSendInvoice))
	}
	if domain.StatusLabel("mystery") != "mystery" {
		t.Fatal("unknown status should fall back to the raw value")
	}
}
