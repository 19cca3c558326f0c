package domain

// Project statuses. The slice fixes rank order for "at or beyond"
// checks; reclamation and done sit outside the linear run.
const (
	StatusPlanning         = "planning"
	StatusEquipmentWaiting = "equipment_waiting"
	StatusEquipmentArrived = "equipment_arrived"
	StatusWorkScheduled    = "work_scheduled"
	StatusWorkInProgress   = "work_in_progress"
	StatusWorkCompleted    = "work_completed"
	StatusInvoiced         = "invoiced"
	StatusSendInvoice      = "send_invoice"
	StatusInvoiceSent      = "invoice_sent"
	StatusPaid             = "paid"
	StatusReclamation      = "reclamation"
	StatusDone             = "done"
)

var statusOrder = []string{
	StatusPlanning,
	StatusEquipmentWaiting,
	StatusEquipmentArrived,
	StatusWorkScheduled,
	StatusWorkInProgress,
	StatusWorkCompleted,
	StatusInvoiced,
	StatusSendInvoice,
	StatusInvoiceSent,
	StatusPaid,
}

// StatusLabels is the one canonical status-to-description table.
// Every human-readable label in the system comes from here.
var StatusLabels = map[string]string{
	StatusPlanning:         "Planning",
	StatusEquipmentWaiting: "Waiting for equipment",
	StatusEquipmentArrived: "Equipment arrived",
	StatusWorkScheduled:    "Work scheduled",
	StatusWorkInProgress:   "Work in progress",
	StatusWorkCompleted:    "Work completed",
	StatusInvoiced:         "Invoiced",
	StatusSendInvoice:      "Invoice to send",
	StatusInvoiceSent:      "Invoice sent",
	StatusPaid:             "Paid",
	StatusReclamation:      "Reclamation",
	StatusDone:             "Done",
}

func ValidProjectStatus(s string) bool {
	_, ok := StatusLabels[s]
	return ok
}

// StatusLabel returns the display label, falling back to the raw value.
func StatusLabel(s string) string {
	if l, ok := StatusLabels[s]; ok {
		return l
	}
	return s
}

// StatusRank returns the position of a status in the linear run, or -1
// for reclamation/done/unknown.
func StatusRank(s string) int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// StatusAtLeast reports whether s has progressed at or beyond target in
// the linear run. Side states never satisfy it.
func StatusAtLeast(s, target string) bool {
	sr, tr := StatusRank(s), StatusRank(target)
	return sr >= 0 && tr >= 0 && sr >= tr
}

// CompletedLike reports whether a project status admits a reclamation.
func CompletedLike(s string) bool {
	switch s {
	case StatusWorkCompleted, StatusInvoiced, StatusSendInvoice, StatusInvoiceSent, StatusPaid:
		return true
	}
	return false
}

// Reclamation statuses.
const (
	ReclamationPending    = "pending"
	ReclamationAccepted   = "accepted"
	ReclamationRejected   = "rejected"
	ReclamationInProgress = "in_progress"
	ReclamationCompleted  = "completed"
)

// History change types. The engine emits the first seven; file and
// report kinds are written by outer collaborators through the same log.
const (
	ChangeCreated       = "created"
	ChangeStatus        = "status_change"
	ChangeAssignment    = "assignment_change"
	ChangeInfo          = "info_update"
	ChangeDate          = "date_update"
	ChangeEquipment     = "equipment_update"
	ChangeCall          = "call_update"
	ChangeNoteAdded     = "note_added"
	ChangeFileAdded     = "file_added"
	ChangeFileDeleted   = "file_deleted"
	ChangeReportAdded   = "report_added"
	ChangeReportUpdated = "report_updated"
	ChangeReportDeleted = "report_deleted"
)

var changeTypes = map[string]bool{
	ChangeCreated:       true,
	ChangeStatus:        true,
	ChangeAssignment:    true,
	ChangeInfo:          true,
	ChangeDate:          true,
	ChangeEquipment:     true,
	ChangeCall:          true,
	ChangeNoteAdded:     true,
	ChangeFileAdded:     true,
	ChangeFileDeleted:   true,
	ChangeReportAdded:   true,
	ChangeReportUpdated: true,
	ChangeReportDeleted: true,
}

func ValidChangeType(t string) bool { return changeTypes[t] }

// Reclamation history actions. Creation itself is recorded only as the
// project-level status_change into the reclamation state.
const (
	ReclActionAccepted   = "accepted"
	ReclActionRejected   = "rejected"
	ReclActionStarted    = "started"
	ReclActionReassigned = "reassigned"
	ReclActionCompleted  = "completed"
)
