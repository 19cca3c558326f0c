package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sunline/internal/config"
	"sunline/internal/domain"
	"sunline/internal/history"
	"sunline/internal/provider"
	"sunline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	History  history.Writer
	Provider provider.PaymentProvider
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		History: history.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// requireFirm enforces tenant scoping. Admins bypass it everywhere.
func requireFirm(actor domain.Actor, firmID int64) error {
	if actor.HasFirm(firmID) {
		return nil
	}
	return AuthorizationError{ActorID: actor.ID, Reason: fmt.Sprintf("no access to firm %d", firmID)}
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	FirmID int64
	Name   string
	LeadID string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions, actor domain.Actor) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "required"}
	}
	if _, err := e.Repo.GetFirm(ctx, opts.FirmID); err != nil {
		return domain.Project{}, err
	}
	if err := requireFirm(actor, opts.FirmID); err != nil {
		return domain.Project{}, err
	}
	leadID := opts.LeadID
	if leadID == "" {
		leadID = actor.ID
	}
	now := e.nowStr()
	p := domain.Project{
		FirmID:    opts.FirmID,
		LeadID:    leadID,
		Name:      opts.Name,
		Status:    domain.StatusPlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return p, err
	}
	p, err = e.Repo.InsertProject(ctx, tx, p)
	if err != nil {
		return p, err
	}
	if _, err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProjectID:   p.ID,
		ActorID:     actor.ID,
		ChangeType:  domain.ChangeCreated,
		Description: fmt.Sprintf("Project %q created", p.Name),
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ProjectUpdateOptions encapsulates allowed updates. Nil pointers mean
// "leave as-is"; CrewID of 0 clears the assignment, empty date strings
// clear the date.
type ProjectUpdateOptions struct {
	ID                    int64
	Status                *string
	Name                  *string
	CrewID                *int64
	EquipmentExpectedDate *string
	EquipmentArrivedDate  *string
	WorkStartDate         *string
	WorkEndDate           *string
	ClientCalled          *bool
	EquipmentCalled       *bool
	InvoiceNumber         *string
}

type fieldChange struct {
	name       string
	changeType string
	oldValue   string
	newValue   string
}

// UpdateProject is the project state machine entry point. It validates
// the transition, applies every requested field change, and appends one
// history row per changed field, all inside a single transaction.
// Unchanged fields never produce entries.
func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions, actor domain.Actor) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, opts.ID)
	if err != nil {
		return p, err
	}
	if err := requireFirm(actor, p.FirmID); err != nil {
		return p, err
	}

	var changes []fieldChange

	if opts.Status != nil && *opts.Status != p.Status {
		if err := ensureProjectTransition(p.Status, *opts.Status); err != nil {
			return p, err
		}
		if *opts.Status == domain.StatusPaid && !actor.IsAdmin() {
			return p, AuthorizationError{ActorID: actor.ID, Reason: "only admin may set status paid"}
		}
		changes = append(changes, fieldChange{
			name: "status", changeType: domain.ChangeStatus,
			oldValue: p.Status, newValue: *opts.Status,
		})
		p.Status = *opts.Status
	}
	if opts.Name != nil && *opts.Name != p.Name {
		if *opts.Name == "" {
			return p, ValidationError{Field: "name", Reason: "required"}
		}
		changes = append(changes, fieldChange{
			name: "name", changeType: domain.ChangeInfo,
			oldValue: p.Name, newValue: *opts.Name,
		})
		p.Name = *opts.Name
	}

	var newCrew *domain.Crew
	if opts.CrewID != nil {
		oldVal := int64Str(p.CrewID)
		if *opts.CrewID == 0 {
			if p.CrewID != nil {
				changes = append(changes, fieldChange{
					name: "crew_id", changeType: domain.ChangeAssignment,
					oldValue: oldVal, newValue: "",
				})
				p.CrewID = nil
			}
		} else if p.CrewID == nil || *p.CrewID != *opts.CrewID {
			crew, err := e.Repo.GetCrew(ctx, *opts.CrewID)
			if err != nil {
				return p, err
			}
			if crew.FirmID != p.FirmID {
				return p, ValidationError{Field: "crew_id", Reason: "crew belongs to a different firm"}
			}
			if crew.Archived {
				return p, ValidationError{Field: "crew_id", Reason: "crew is archived"}
			}
			newCrew = &crew
			changes = append(changes, fieldChange{
				name: "crew_id", changeType: domain.ChangeAssignment,
				oldValue: oldVal, newValue: strconv.FormatInt(crew.ID, 10),
			})
			p.CrewID = &crew.ID
		}
	}

	applyDate := func(name string, changeType string, target **string, v *string) {
		if v == nil {
			return
		}
		oldVal := strDeref(*target)
		newVal := *v
		if oldVal == newVal {
			return
		}
		changes = append(changes, fieldChange{name: name, changeType: changeType, oldValue: oldVal, newValue: newVal})
		if newVal == "" {
			*target = nil
		} else {
			s := newVal
			*target = &s
		}
	}
	applyDate("equipment_expected_date", domain.ChangeEquipment, &p.EquipmentExpectedDate, opts.EquipmentExpectedDate)
	applyDate("equipment_arrived_date", domain.ChangeEquipment, &p.EquipmentArrivedDate, opts.EquipmentArrivedDate)
	applyDate("work_start_date", domain.ChangeDate, &p.WorkStartDate, opts.WorkStartDate)
	applyDate("work_end_date", domain.ChangeDate, &p.WorkEndDate, opts.WorkEndDate)

	applyFlag := func(name string, target *bool, v *bool) {
		if v == nil || *v == *target {
			return
		}
		changes = append(changes, fieldChange{
			name: name, changeType: domain.ChangeCall,
			oldValue: strconv.FormatBool(*target), newValue: strconv.FormatBool(*v),
		})
		*target = *v
	}
	applyFlag("client_called", &p.ClientCalled, opts.ClientCalled)
	applyFlag("equipment_called", &p.EquipmentCalled, opts.EquipmentCalled)

	if opts.InvoiceNumber != nil && *opts.InvoiceNumber != strDeref(p.InvoiceNumber) {
		if !domain.StatusAtLeast(p.Status, domain.StatusInvoiced) {
			return p, ValidationError{Field: "invoice_number", Reason: "project has not been invoiced"}
		}
		changes = append(changes, fieldChange{
			name: "invoice_number", changeType: domain.ChangeInfo,
			oldValue: strDeref(p.InvoiceNumber), newValue: *opts.InvoiceNumber,
		})
		s := *opts.InvoiceNumber
		p.InvoiceNumber = &s
	}

	if len(changes) == 0 {
		return p, nil
	}
	p.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return p, err
	}

	// Snapshot is captured before the assignment_change entry so the
	// entry can reference it and describe the roster as it was.
	var snapshot *domain.CrewSnapshot
	if newCrew != nil {
		snap, err := e.captureSnapshotTx(ctx, tx, p.ID, *newCrew, actor)
		if err != nil {
			return p, err
		}
		snapshot = &snap
	}

	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, err
	}
	for _, ch := range changes {
		entry := domain.HistoryEntry{
			ProjectID:   p.ID,
			ActorID:     actor.ID,
			ChangeType:  ch.changeType,
			FieldName:   strPtr(ch.name),
			OldValue:    strPtr(ch.oldValue),
			NewValue:    strPtr(ch.newValue),
			Description: changeDescription(ch, snapshot),
		}
		if ch.name == "crew_id" && snapshot != nil {
			entry.SnapshotID = &snapshot.ID
		}
		if _, err := e.History.Append(ctx, tx, entry); err != nil {
			return p, err
		}
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ensureProjectTransition validates a manual status write. The
// reclamation side-state is entered only through CreateReclamation and
// left only through CompleteReclamation; done is terminal.
func ensureProjectTransition(oldStatus, newStatus string) error {
	if !domain.ValidProjectStatus(newStatus) {
		return ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}
	if newStatus == domain.StatusReclamation {
		return TransitionError{Entity: "project", From: oldStatus, To: newStatus}
	}
	if oldStatus == domain.StatusDone || oldStatus == domain.StatusReclamation {
		return TransitionError{Entity: "project", From: oldStatus, To: newStatus}
	}
	return nil
}

func changeDescription(ch fieldChange, snapshot *domain.CrewSnapshot) string {
	switch ch.name {
	case "status":
		return fmt.Sprintf("Status changed from %s to %s", domain.StatusLabel(ch.oldValue), domain.StatusLabel(ch.newValue))
	case "crew_id":
		if ch.newValue == "" {
			return "Crew assignment removed"
		}
		if snapshot != nil {
			return snapshotDescription(*snapshot)
		}
		return "Crew assigned"
	case "client_called", "equipment_called":
		verb := "cleared"
		if ch.newValue == "true" {
			verb = "recorded"
		}
		return fmt.Sprintf("Call flag %s %s", ch.name, verb)
	default:
		if ch.newValue == "" {
			return fmt.Sprintf("Field %s cleared", ch.name)
		}
		return fmt.Sprintf("Field %s set to %s", ch.name, ch.newValue)
	}
}

// snapshotDescription is built from the captured data, not the live
// rows, so it stays accurate after later crew edits.
func snapshotDescription(s domain.CrewSnapshot) string {
	var crew domain.Crew
	var members []domain.CrewMember
	_ = json.Unmarshal([]byte(s.CrewJSON), &crew)
	_ = json.Unmarshal([]byte(s.MembersJSON), &members)
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	if len(names) == 0 {
		return fmt.Sprintf("Crew assigned: %s (#%d), no members", crew.Name, crew.Number)
	}
	return fmt.Sprintf("Crew assigned: %s (#%d), members: %s", crew.Name, crew.Number, strings.Join(names, ", "))
}

// CaptureSnapshot deep-copies the crew and its current members into an
// immutable row. Two calls for the same project and crew at different
// times produce two distinct snapshots.
func (e Engine) CaptureSnapshot(ctx context.Context, projectID, crewID int64, actor domain.Actor) (domain.CrewSnapshot, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.CrewSnapshot{}, err
	}
	if err := requireFirm(actor, p.FirmID); err != nil {
		return domain.CrewSnapshot{}, err
	}
	crew, err := e.Repo.GetCrew(ctx, crewID)
	if err != nil {
		return domain.CrewSnapshot{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CrewSnapshot{}, err
	}
	defer tx.Rollback()
	snap, err := e.captureSnapshotTx(ctx, tx, projectID, crew, actor)
	if err != nil {
		return snap, err
	}
	return snap, tx.Commit()
}

func (e Engine) captureSnapshotTx(ctx context.Context, tx *sql.Tx, projectID int64, crew domain.Crew, actor domain.Actor) (domain.CrewSnapshot, error) {
	members, err := e.Repo.ListCrewMembers(ctx, crew.ID)
	if err != nil {
		return domain.CrewSnapshot{}, err
	}
	crewJSON, err := json.Marshal(crew)
	if err != nil {
		return domain.CrewSnapshot{}, err
	}
	if members == nil {
		members = []domain.CrewMember{}
	}
	membersJSON, err := json.Marshal(members)
	if err != nil {
		return domain.CrewSnapshot{}, err
	}
	return e.Repo.InsertSnapshot(ctx, tx, domain.CrewSnapshot{
		ProjectID:   projectID,
		CrewID:      crew.ID,
		CrewJSON:    string(crewJSON),
		MembersJSON: string(membersJSON),
		CreatedBy:   actor.ID,
		CreatedAt:   e.nowStr(),
	})
}

// AddNote writes the note and its note_added history row in one
// transaction, linking them by key rather than by timestamp proximity.
func (e Engine) AddNote(ctx context.Context, projectID int64, body, priority string, actor domain.Actor) (domain.Note, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Note{}, ValidationError{Field: "body", Reason: "required"}
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Note{}, err
	}
	if err := requireFirm(actor, p.FirmID); err != nil {
		return domain.Note{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Note{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return domain.Note{}, err
	}
	n, err := e.Repo.InsertNote(ctx, tx, domain.Note{
		ProjectID: projectID,
		AuthorID:  actor.ID,
		Body:      body,
		Priority:  priority,
		CreatedAt: e.nowStr(),
	})
	if err != nil {
		return n, err
	}
	if _, err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProjectID:   projectID,
		ActorID:     actor.ID,
		ChangeType:  domain.ChangeNoteAdded,
		Description: "Note added",
		NoteID:      &n.ID,
	}); err != nil {
		return n, err
	}
	return n, tx.Commit()
}

func (e Engine) ProjectHistory(ctx context.Context, projectID int64, actor domain.Actor) ([]domain.HistoryView, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := requireFirm(actor, p.FirmID); err != nil {
		return nil, err
	}
	return e.Repo.ProjectHistory(ctx, projectID)
}

// CreateCrew registers a crew; number must be unique within the firm.
func (e Engine) CreateCrew(ctx context.Context, firmID int64, name string, number int, actor domain.Actor) (domain.Crew, error) {
	if name == "" {
		return domain.Crew{}, ValidationError{Field: "name", Reason: "required"}
	}
	if number <= 0 {
		return domain.Crew{}, ValidationError{Field: "number", Reason: "must be positive"}
	}
	if _, err := e.Repo.GetFirm(ctx, firmID); err != nil {
		return domain.Crew{}, err
	}
	if err := requireFirm(actor, firmID); err != nil {
		return domain.Crew{}, err
	}
	c, err := e.Repo.InsertCrew(ctx, domain.Crew{
		FirmID:    firmID,
		Name:      name,
		Number:    number,
		CreatedAt: e.nowStr(),
	})
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return c, ValidationError{Field: "number", Reason: fmt.Sprintf("crew number %d already used in firm %d", number, firmID)}
	}
	return c, err
}

func (e Engine) AddCrewMember(ctx context.Context, m domain.CrewMember, actor domain.Actor) (domain.CrewMember, error) {
	if m.Name == "" {
		return m, ValidationError{Field: "name", Reason: "required"}
	}
	crew, err := e.Repo.GetCrew(ctx, m.CrewID)
	if err != nil {
		return m, err
	}
	if err := requireFirm(actor, crew.FirmID); err != nil {
		return m, err
	}
	m.CreatedAt = e.nowStr()
	return e.Repo.InsertCrewMember(ctx, m)
}

func (e Engine) UpdateCrewMember(ctx context.Context, m domain.CrewMember, actor domain.Actor) (domain.CrewMember, error) {
	existing, err := e.Repo.GetCrewMember(ctx, m.ID)
	if err != nil {
		return m, err
	}
	crew, err := e.Repo.GetCrew(ctx, existing.CrewID)
	if err != nil {
		return m, err
	}
	if err := requireFirm(actor, crew.FirmID); err != nil {
		return m, err
	}
	m.CrewID = existing.CrewID
	if err := e.Repo.UpdateCrewMember(ctx, m); err != nil {
		return m, err
	}
	return e.Repo.GetCrewMember(ctx, m.ID)
}

func (e Engine) ArchiveCrew(ctx context.Context, crewID int64, actor domain.Actor) (domain.Crew, error) {
	crew, err := e.Repo.GetCrew(ctx, crewID)
	if err != nil {
		return crew, err
	}
	if err := requireFirm(actor, crew.FirmID); err != nil {
		return crew, err
	}
	crew.Archived = true
	if err := e.Repo.UpdateCrew(ctx, crew); err != nil {
		return crew, err
	}
	return crew, nil
}

// --- helpers ---

func strPtr(s string) *string { return &s }

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func int64Str(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
