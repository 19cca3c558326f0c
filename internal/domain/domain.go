package domain

type Firm struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Actor is the authenticated identity attached to every engine call.
// It is always supplied explicitly by the caller; engine code never
// reads ambient session state.
type Actor struct {
	ID      string  `json:"id"`
	Role    string  `json:"role" enum:"admin,project-lead,worker"`
	FirmIDs []int64 `json:"firm_ids,omitempty"`
}

const (
	RoleAdmin       = "admin"
	RoleProjectLead = "project-lead"
	RoleWorker      = "worker"
)

// SystemActorID is the reserved actor for provider-driven writes
// (payment reconciliation).
const SystemActorID = "payment-sync"

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// HasFirm reports whether the actor may touch rows of the given firm.
// Admins bypass firm scoping.
func (a Actor) HasFirm(firmID int64) bool {
	if a.IsAdmin() {
		return true
	}
	for _, id := range a.FirmIDs {
		if id == firmID {
			return true
		}
	}
	return false
}

type Project struct {
	ID                    int64   `json:"id"`
	FirmID                int64   `json:"firm_id"`
	LeadID                string  `json:"lead_id"`
	Name                  string  `json:"name"`
	Status                string  `json:"status"`
	CrewID                *int64  `json:"crew_id,omitempty"`
	EquipmentExpectedDate *string `json:"equipment_expected_date,omitempty" format:"date"`
	EquipmentArrivedDate  *string `json:"equipment_arrived_date,omitempty" format:"date"`
	WorkStartDate         *string `json:"work_start_date,omitempty" format:"date"`
	WorkEndDate           *string `json:"work_end_date,omitempty" format:"date"`
	ClientCalled          bool    `json:"client_called"`
	EquipmentCalled       bool    `json:"equipment_called"`
	InvoiceNumber         *string `json:"invoice_number,omitempty"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

type Crew struct {
	ID        int64  `json:"id"`
	FirmID    int64  `json:"firm_id"`
	Name      string `json:"name"`
	Number    int    `json:"number"`
	Archived  bool   `json:"archived"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CrewMember struct {
	ID        int64   `json:"id"`
	CrewID    int64   `json:"crew_id"`
	Name      string  `json:"name"`
	Email     string  `json:"email,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	Role      string  `json:"role,omitempty"`
	ActorID   *string `json:"actor_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// CrewSnapshot freezes a crew's composition at assignment time. Rows
// are insert-only; later edits to the live crew never touch them.
type CrewSnapshot struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	CrewID      int64  `json:"crew_id"`
	CrewJSON    string `json:"crew_json"`
	MembersJSON string `json:"members_json"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type HistoryEntry struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"project_id"`
	ActorID     string  `json:"actor_id"`
	ChangeType  string  `json:"change_type"`
	FieldName   *string `json:"field_name,omitempty"`
	OldValue    *string `json:"old_value,omitempty"`
	NewValue    *string `json:"new_value,omitempty"`
	Description string  `json:"description"`
	SnapshotID  *int64  `json:"snapshot_id,omitempty"`
	NoteID      *int64  `json:"note_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// HistoryView enriches HistoryEntry at read time with the acting
// user's display name and, for note_added rows, the note priority.
type HistoryView struct {
	HistoryEntry
	ActorName    string  `json:"actor_name,omitempty"`
	NotePriority *string `json:"note_priority,omitempty"`
}

type Note struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	Priority  string `json:"priority,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Reclamation struct {
	ID              int64   `json:"id"`
	ProjectID       int64   `json:"project_id"`
	FirmID          int64   `json:"firm_id"`
	Description     string  `json:"description"`
	Deadline        string  `json:"deadline" format:"date"`
	Status          string  `json:"status" enum:"pending,accepted,rejected,in_progress,completed"`
	OriginalCrewID  int64   `json:"original_crew_id"`
	CurrentCrewID   int64   `json:"current_crew_id"`
	CreatedBy       string  `json:"created_by"`
	CompletionNotes *string `json:"completion_notes,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type ReclamationHistoryEntry struct {
	ID            int64  `json:"id"`
	ReclamationID int64  `json:"reclamation_id"`
	Action        string `json:"action"`
	ActorID       string `json:"actor_id"`
	MemberID      *int64 `json:"member_id,omitempty"`
	CrewID        int64  `json:"crew_id"`
	Notes         string `json:"notes,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Invoice struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"project_id"`
	ExternalID  string  `json:"external_id"`
	Number      string  `json:"number"`
	IssueDate   string  `json:"issue_date,omitempty" format:"date"`
	DueDate     string  `json:"due_date,omitempty" format:"date"`
	TotalAmount float64 `json:"total_amount"`
	IsPaid      bool    `json:"is_paid"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID          string `json:"id"`
	ActorID     string `json:"actor_id"`
	Role        string `json:"role"`
	FirmIDsJSON string `json:"firm_ids_json,omitempty"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"key_hash"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
