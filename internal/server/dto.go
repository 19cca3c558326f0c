package server

import (
	"sunline/internal/domain"
	"sunline/internal/engine"
)

type MeResponse struct {
	ActorID string  `json:"actor_id"`
	Role    string  `json:"role"`
	FirmIDs []int64 `json:"firm_ids,omitempty"`
	Source  string  `json:"source"`
}

type CreateFirmRequest struct {
	Name string `json:"name" minLength:"1"`
}

type FirmResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func firmResponse(f domain.Firm) FirmResponse {
	return FirmResponse{ID: f.ID, Name: f.Name, CreatedAt: f.CreatedAt}
}

type CreateProjectRequest struct {
	FirmID int64  `json:"firm_id"`
	Name   string `json:"name" minLength:"1"`
	LeadID string `json:"lead_id,omitempty"`
}

type UpdateProjectRequest struct {
	Status                *string `json:"status,omitempty"`
	Name                  *string `json:"name,omitempty"`
	CrewID                *int64  `json:"crew_id,omitempty"`
	EquipmentExpectedDate *string `json:"equipment_expected_date,omitempty"`
	EquipmentArrivedDate  *string `json:"equipment_arrived_date,omitempty"`
	WorkStartDate         *string `json:"work_start_date,omitempty"`
	WorkEndDate           *string `json:"work_end_date,omitempty"`
	ClientCalled          *bool   `json:"client_called,omitempty"`
	EquipmentCalled       *bool   `json:"equipment_called,omitempty"`
	InvoiceNumber         *string `json:"invoice_number,omitempty"`
}

type ProjectResponse struct {
	ID                    int64   `json:"id"`
	FirmID                int64   `json:"firm_id"`
	LeadID                string  `json:"lead_id"`
	Name                  string  `json:"name"`
	Status                string  `json:"status"`
	StatusLabel           string  `json:"status_label"`
	CrewID                *int64  `json:"crew_id,omitempty"`
	EquipmentExpectedDate *string `json:"equipment_expected_date,omitempty"`
	EquipmentArrivedDate  *string `json:"equipment_arrived_date,omitempty"`
	WorkStartDate         *string `json:"work_start_date,omitempty"`
	WorkEndDate           *string `json:"work_end_date,omitempty"`
	ClientCalled          bool    `json:"client_called"`
	EquipmentCalled       bool    `json:"equipment_called"`
	InvoiceNumber         *string `json:"invoice_number,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:                    p.ID,
		FirmID:                p.FirmID,
		LeadID:                p.LeadID,
		Name:                  p.Name,
		Status:                p.Status,
		StatusLabel:           domain.StatusLabel(p.Status),
		CrewID:                p.CrewID,
		EquipmentExpectedDate: p.EquipmentExpectedDate,
		EquipmentArrivedDate:  p.EquipmentArrivedDate,
		WorkStartDate:         p.WorkStartDate,
		WorkEndDate:           p.WorkEndDate,
		ClientCalled:          p.ClientCalled,
		EquipmentCalled:       p.EquipmentCalled,
		InvoiceNumber:         p.InvoiceNumber,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

type HistoryEntryResponse struct {
	ID           int64   `json:"id"`
	ProjectID    int64   `json:"project_id"`
	ActorID      string  `json:"actor_id"`
	ActorName    string  `json:"actor_name,omitempty"`
	ChangeType   string  `json:"change_type"`
	FieldName    *string `json:"field_name,omitempty"`
	OldValue     *string `json:"old_value,omitempty"`
	NewValue     *string `json:"new_value,omitempty"`
	Description  string  `json:"description"`
	SnapshotID   *int64  `json:"snapshot_id,omitempty"`
	NoteID       *int64  `json:"note_id,omitempty"`
	NotePriority *string `json:"note_priority,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func historyResponse(h domain.HistoryView) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:           h.ID,
		ProjectID:    h.ProjectID,
		ActorID:      h.ActorID,
		ActorName:    h.ActorName,
		ChangeType:   h.ChangeType,
		FieldName:    h.FieldName,
		OldValue:     h.OldValue,
		NewValue:     h.NewValue,
		Description:  h.Description,
		SnapshotID:   h.SnapshotID,
		NoteID:       h.NoteID,
		NotePriority: h.NotePriority,
		CreatedAt:    h.CreatedAt,
	}
}

type AddNoteRequest struct {
	Body     string `json:"body" minLength:"1"`
	Priority string `json:"priority,omitempty" enum:",low,normal,high"`
}

type NoteResponse struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	Priority  string `json:"priority,omitempty"`
	CreatedAt string `json:"created_at"`
}

func noteResponse(n domain.Note) NoteResponse {
	return NoteResponse{
		ID:        n.ID,
		ProjectID: n.ProjectID,
		AuthorID:  n.AuthorID,
		Body:      n.Body,
		Priority:  n.Priority,
		CreatedAt: n.CreatedAt,
	}
}

type CreateCrewRequest struct {
	FirmID int64  `json:"firm_id"`
	Name   string `json:"name" minLength:"1"`
	Number int    `json:"number" minimum:"1"`
}

type CrewResponse struct {
	ID        int64  `json:"id"`
	FirmID    int64  `json:"firm_id"`
	Name      string `json:"name"`
	Number    int    `json:"number"`
	Archived  bool   `json:"archived"`
	CreatedAt string `json:"created_at"`
}

func crewResponse(c domain.Crew) CrewResponse {
	return CrewResponse{ID: c.ID, FirmID: c.FirmID, Name: c.Name, Number: c.Number, Archived: c.Archived, CreatedAt: c.CreatedAt}
}

type AddCrewMemberRequest struct {
	Name    string  `json:"name" minLength:"1"`
	Email   string  `json:"email,omitempty"`
	Phone   string  `json:"phone,omitempty"`
	Role    string  `json:"role,omitempty"`
	ActorID *string `json:"actor_id,omitempty"`
}

type CrewMemberResponse struct {
	ID        int64   `json:"id"`
	CrewID    int64   `json:"crew_id"`
	Name      string  `json:"name"`
	Email     string  `json:"email,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	Role      string  `json:"role,omitempty"`
	ActorID   *string `json:"actor_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func memberResponse(m domain.CrewMember) CrewMemberResponse {
	return CrewMemberResponse{
		ID:        m.ID,
		CrewID:    m.CrewID,
		Name:      m.Name,
		Email:     m.Email,
		Phone:     m.Phone,
		Role:      m.Role,
		ActorID:   m.ActorID,
		CreatedAt: m.CreatedAt,
	}
}

type SnapshotResponse struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	CrewID      int64  `json:"crew_id"`
	CrewJSON    string `json:"crew_json"`
	MembersJSON string `json:"members_json"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

func snapshotResponse(s domain.CrewSnapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:          s.ID,
		ProjectID:   s.ProjectID,
		CrewID:      s.CrewID,
		CrewJSON:    s.CrewJSON,
		MembersJSON: s.MembersJSON,
		CreatedBy:   s.CreatedBy,
		CreatedAt:   s.CreatedAt,
	}
}

type CreateReclamationRequest struct {
	ProjectID   int64  `json:"project_id"`
	CrewID      int64  `json:"crew_id"`
	Description string `json:"description" minLength:"1"`
	Deadline    string `json:"deadline" format:"date"`
}

type RejectReclamationRequest struct {
	Reason string `json:"reason" minLength:"10"`
}

type CompleteReclamationRequest struct {
	Notes string `json:"notes,omitempty"`
}

type ReclamationResponse struct {
	ID              int64   `json:"id"`
	ProjectID       int64   `json:"project_id"`
	FirmID          int64   `json:"firm_id"`
	Description     string  `json:"description"`
	Deadline        string  `json:"deadline"`
	Status          string  `json:"status"`
	OriginalCrewID  int64   `json:"original_crew_id"`
	CurrentCrewID   int64   `json:"current_crew_id"`
	CreatedBy       string  `json:"created_by"`
	CompletionNotes *string `json:"completion_notes,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func reclamationResponse(r domain.Reclamation) ReclamationResponse {
	return ReclamationResponse{
		ID:              r.ID,
		ProjectID:       r.ProjectID,
		FirmID:          r.FirmID,
		Description:     r.Description,
		Deadline:        r.Deadline,
		Status:          r.Status,
		OriginalCrewID:  r.OriginalCrewID,
		CurrentCrewID:   r.CurrentCrewID,
		CreatedBy:       r.CreatedBy,
		CompletionNotes: r.CompletionNotes,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func mapReclamations(items []domain.Reclamation) []ReclamationResponse {
	res := make([]ReclamationResponse, 0, len(items))
	for _, r := range items {
		res = append(res, reclamationResponse(r))
	}
	return res
}

type ReclamationHistoryResponse struct {
	ID            int64  `json:"id"`
	ReclamationID int64  `json:"reclamation_id"`
	Action        string `json:"action"`
	ActorID       string `json:"actor_id"`
	MemberID      *int64 `json:"member_id,omitempty"`
	CrewID        int64  `json:"crew_id"`
	Notes         string `json:"notes,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func reclamationHistoryResponse(h domain.ReclamationHistoryEntry) ReclamationHistoryResponse {
	return ReclamationHistoryResponse{
		ID:            h.ID,
		ReclamationID: h.ReclamationID,
		Action:        h.Action,
		ActorID:       h.ActorID,
		MemberID:      h.MemberID,
		CrewID:        h.CrewID,
		Notes:         h.Notes,
		CreatedAt:     h.CreatedAt,
	}
}

type CreateInvoiceRequest struct {
	Amount  float64 `json:"amount" minimum:"0"`
	DueDate string  `json:"due_date,omitempty" format:"date"`
}

type InvoiceResponse struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"project_id"`
	ExternalID  string  `json:"external_id"`
	Number      string  `json:"number"`
	IssueDate   string  `json:"issue_date,omitempty"`
	DueDate     string  `json:"due_date,omitempty"`
	TotalAmount float64 `json:"total_amount"`
	IsPaid      bool    `json:"is_paid"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func invoiceResponse(i domain.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:          i.ID,
		ProjectID:   i.ProjectID,
		ExternalID:  i.ExternalID,
		Number:      i.Number,
		IssueDate:   i.IssueDate,
		DueDate:     i.DueDate,
		TotalAmount: i.TotalAmount,
		IsPaid:      i.IsPaid,
		Status:      i.Status,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

type ReconcileResponse struct {
	Updated bool `json:"updated"`
}

type ReconcileReportResponse struct {
	Checked  int                     `json:"checked"`
	Updated  int                     `json:"updated"`
	Failures []engine.InvoiceFailure `json:"failures,omitempty"`
}
