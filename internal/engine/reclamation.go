package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sunline/internal/domain"
	"sunline/internal/repo"
)

const minRejectReasonLen = 10

// ReclamationCreateOptions are parameters for opening a defect claim
// against a completed project.
type ReclamationCreateOptions struct {
	ProjectID   int64
	CrewID      int64
	Description string
	Deadline    string
}

// CreateReclamation opens a claim, routes it to a crew, and parks the
// project in the reclamation side-state. The project history entry
// keeps the prior status so completion can restore it.
func (e Engine) CreateReclamation(ctx context.Context, opts ReclamationCreateOptions, actor domain.Actor) (domain.Reclamation, error) {
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleProjectLead {
		return domain.Reclamation{}, AuthorizationError{ActorID: actor.ID, Reason: "only admin or project-lead may create reclamations"}
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Reclamation{}, ValidationError{Field: "description", Reason: "required"}
	}
	if opts.Deadline == "" {
		return domain.Reclamation{}, ValidationError{Field: "deadline", Reason: "required"}
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Reclamation{}, err
	}
	if err := requireFirm(actor, p.FirmID); err != nil {
		return domain.Reclamation{}, err
	}
	if !domain.CompletedLike(p.Status) {
		return domain.Reclamation{}, TransitionError{Entity: "project", From: p.Status, To: domain.StatusReclamation}
	}
	crew, err := e.Repo.GetCrew(ctx, opts.CrewID)
	if err != nil {
		return domain.Reclamation{}, err
	}
	if crew.FirmID != p.FirmID {
		return domain.Reclamation{}, ValidationError{Field: "crew_id", Reason: "crew belongs to a different firm"}
	}

	now := e.nowStr()
	rec := domain.Reclamation{
		ProjectID:      p.ID,
		FirmID:         p.FirmID,
		Description:    opts.Description,
		Deadline:       opts.Deadline,
		Status:         domain.ReclamationPending,
		OriginalCrewID: crew.ID,
		CurrentCrewID:  crew.ID,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return rec, err
	}
	rec, err = e.Repo.InsertReclamation(ctx, tx, rec)
	if err != nil {
		return rec, err
	}
	// Conditional write: if the project left the completed-like state
	// between our read and here, the whole creation aborts.
	if err := e.Repo.SetProjectStatus(ctx, tx, p.ID, p.Status, domain.StatusReclamation, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return rec, ConflictError{Entity: "project", ID: p.ID, Expected: p.Status}
		}
		return rec, err
	}
	if _, err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProjectID:   p.ID,
		ActorID:     actor.ID,
		ChangeType:  domain.ChangeStatus,
		FieldName:   strPtr("status"),
		OldValue:    strPtr(p.Status),
		NewValue:    strPtr(domain.StatusReclamation),
		Description: fmt.Sprintf("Status changed from %s to %s", domain.StatusLabel(p.Status), domain.StatusLabel(domain.StatusReclamation)),
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

// actingMember resolves the crew membership behind an authenticated
// actor. Reclamation operations are crew-scoped, not role-scoped.
func (e Engine) actingMember(ctx context.Context, actor domain.Actor) (domain.CrewMember, error) {
	m, err := e.Repo.MemberForActor(ctx, actor.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return m, AuthorizationError{ActorID: actor.ID, Reason: "not a member of any crew"}
	}
	return m, err
}

// AcceptReclamation takes a claim from pending (current crew) or from
// rejected (any other crew, which re-points the claim first). Accepting
// schedules the repair: the project's work start date is set to the
// claim's deadline.
func (e Engine) AcceptReclamation(ctx context.Context, id int64, actor domain.Actor) (domain.Reclamation, error) {
	rec, err := e.Repo.GetReclamation(ctx, id)
	if err != nil {
		return rec, err
	}
	if err := requireFirm(actor, rec.FirmID); err != nil {
		return rec, err
	}
	member, err := e.actingMember(ctx, actor)
	if err != nil {
		return rec, err
	}

	expectStatus := rec.Status
	switch rec.Status {
	case domain.ReclamationPending:
		if member.CrewID != rec.CurrentCrewID {
			return rec, AuthorizationError{ActorID: actor.ID, Reason: "claim is assigned to a different crew"}
		}
	case domain.ReclamationRejected:
		// A rejected claim is available to every crew except the one
		// that rejected it.
		if member.CrewID == rec.CurrentCrewID {
			return rec, AuthorizationError{ActorID: actor.ID, Reason: "crew cannot accept its own rejection"}
		}
	default:
		return rec, TransitionError{Entity: "reclamation", From: rec.Status, To: domain.ReclamationAccepted}
	}

	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return rec, err
	}
	set := rec
	set.Status = domain.ReclamationAccepted
	set.CurrentCrewID = member.CrewID
	set.UpdatedAt = now
	ok, err := e.Repo.TransitionReclamation(ctx, tx, id, expectStatus, rec.CurrentCrewID, set)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, e.reclamationRaceError(ctx, id, expectStatus)
	}

	// Place the repair on the crew's calendar. Recorded in the
	// reclamation stream; the project-level audit for the episode is
	// the status_change pair written at create and complete time.
	p, err := e.Repo.GetProjectTx(ctx, tx, rec.ProjectID)
	if err != nil {
		return rec, err
	}
	p.WorkStartDate = strPtr(rec.Deadline)
	p.UpdatedAt = now
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return rec, err
	}

	if _, err := e.History.AppendReclamation(ctx, tx, domain.ReclamationHistoryEntry{
		ReclamationID: id,
		Action:        domain.ReclActionAccepted,
		ActorID:       actor.ID,
		MemberID:      &member.ID,
		CrewID:        member.CrewID,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return e.Repo.GetReclamation(ctx, id)
}

// RejectReclamation declines a pending claim. The current crew stays on
// the record to mark who rejected it; the reason is mandatory and must
// carry real content.
func (e Engine) RejectReclamation(ctx context.Context, id int64, reason string, actor domain.Actor) (domain.Reclamation, error) {
	if len(strings.TrimSpace(reason)) < minRejectReasonLen {
		return domain.Reclamation{}, ValidationError{Field: "reason", Reason: fmt.Sprintf("must be at least %d characters", minRejectReasonLen)}
	}
	rec, err := e.Repo.GetReclamation(ctx, id)
	if err != nil {
		return rec, err
	}
	if err := requireFirm(actor, rec.FirmID); err != nil {
		return rec, err
	}
	member, err := e.actingMember(ctx, actor)
	if err != nil {
		return rec, err
	}
	if rec.Status != domain.ReclamationPending {
		return rec, TransitionError{Entity: "reclamation", From: rec.Status, To: domain.ReclamationRejected}
	}
	if member.CrewID != rec.CurrentCrewID {
		return rec, AuthorizationError{ActorID: actor.ID, Reason: "claim is assigned to a different crew"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return rec, err
	}
	set := rec
	set.Status = domain.ReclamationRejected
	set.UpdatedAt = e.nowStr()
	ok, err := e.Repo.TransitionReclamation(ctx, tx, id, domain.ReclamationPending, rec.CurrentCrewID, set)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, e.reclamationRaceError(ctx, id, domain.ReclamationPending)
	}
	if _, err := e.History.AppendReclamation(ctx, tx, domain.ReclamationHistoryEntry{
		ReclamationID: id,
		Action:        domain.ReclActionRejected,
		ActorID:       actor.ID,
		MemberID:      &member.ID,
		CrewID:        member.CrewID,
		Notes:         reason,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return e.Repo.GetReclamation(ctx, id)
}

// StartReclamation moves an accepted claim into active repair work.
func (e Engine) StartReclamation(ctx context.Context, id int64, actor domain.Actor) (domain.Reclamation, error) {
	rec, err := e.Repo.GetReclamation(ctx, id)
	if err != nil {
		return rec, err
	}
	if err := requireFirm(actor, rec.FirmID); err != nil {
		return rec, err
	}
	member, err := e.actingMember(ctx, actor)
	if err != nil {
		return rec, err
	}
	if rec.Status != domain.ReclamationAccepted {
		return rec, TransitionError{Entity: "reclamation", From: rec.Status, To: domain.ReclamationInProgress}
	}
	if member.CrewID != rec.CurrentCrewID {
		return rec, AuthorizationError{ActorID: actor.ID, Reason: "claim is assigned to a different crew"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return rec, err
	}
	set := rec
	set.Status = domain.ReclamationInProgress
	set.UpdatedAt = e.nowStr()
	ok, err := e.Repo.TransitionReclamation(ctx, tx, id, domain.ReclamationAccepted, rec.CurrentCrewID, set)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, e.reclamationRaceError(ctx, id, domain.ReclamationAccepted)
	}
	if _, err := e.History.AppendReclamation(ctx, tx, domain.ReclamationHistoryEntry{
		ReclamationID: id,
		Action:        domain.ReclActionStarted,
		ActorID:       actor.ID,
		MemberID:      &member.ID,
		CrewID:        member.CrewID,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return e.Repo.GetReclamation(ctx, id)
}

// TakeReclamation hands a rejected claim to the acting crew. The crew
// on the record is the one that rejected it and may not take its own
// rejection; any other crew may, including the original crew after a
// different crew rejected in between.
func (e Engine) TakeReclamation(ctx context.Context, id int64, actor domain.Actor) (domain.Reclamation, error) {
	rec, err := e.Repo.GetReclamation(ctx, id)
	if err != nil {
		return rec, err
	}
	if err := requireFirm(actor, rec.FirmID); err != nil {
		return rec, err
	}
	member, err := e.actingMember(ctx, actor)
	if err != nil {
		return rec, err
	}
	if rec.Status != domain.ReclamationRejected {
		return rec, TransitionError{Entity: "reclamation", From: rec.Status, To: domain.ReclamationPending}
	}
	if member.CrewID == rec.CurrentCrewID {
		return rec, AuthorizationError{ActorID: actor.ID, Reason: "crew cannot take its own rejection"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return rec, err
	}
	set := rec
	set.Status = domain.ReclamationPending
	set.CurrentCrewID = member.CrewID
	set.UpdatedAt = e.nowStr()
	ok, err := e.Repo.TransitionReclamation(ctx, tx, id, domain.ReclamationRejected, rec.CurrentCrewID, set)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, e.reclamationRaceError(ctx, id, domain.ReclamationRejected)
	}
	if _, err := e.History.AppendReclamation(ctx, tx, domain.ReclamationHistoryEntry{
		ReclamationID: id,
		Action:        domain.ReclActionReassigned,
		ActorID:       actor.ID,
		MemberID:      &member.ID,
		CrewID:        member.CrewID,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return e.Repo.GetReclamation(ctx, id)
}

// CompleteReclamation closes the claim and restores the project to
// work_completed. The reclamation row is terminal afterwards.
func (e Engine) CompleteReclamation(ctx context.Context, id int64, notes string, actor domain.Actor) (domain.Reclamation, error) {
	rec, err := e.Repo.GetReclamation(ctx, id)
	if err != nil {
		return rec, err
	}
	if err := requireFirm(actor, rec.FirmID); err != nil {
		return rec, err
	}
	member, err := e.actingMember(ctx, actor)
	if err != nil {
		return rec, err
	}
	if rec.Status != domain.ReclamationAccepted && rec.Status != domain.ReclamationInProgress {
		return rec, TransitionError{Entity: "reclamation", From: rec.Status, To: domain.ReclamationCompleted}
	}
	if member.CrewID != rec.CurrentCrewID {
		return rec, AuthorizationError{ActorID: actor.ID, Reason: "claim is assigned to a different crew"}
	}

	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actor.ID, ""); err != nil {
		return rec, err
	}
	set := rec
	set.Status = domain.ReclamationCompleted
	set.UpdatedAt = now
	if notes != "" {
		set.CompletionNotes = strPtr(notes)
	}
	ok, err := e.Repo.TransitionReclamation(ctx, tx, id, rec.Status, rec.CurrentCrewID, set)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, e.reclamationRaceError(ctx, id, rec.Status)
	}
	if err := e.Repo.SetProjectStatus(ctx, tx, rec.ProjectID, domain.StatusReclamation, domain.StatusWorkCompleted, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return rec, ConflictError{Entity: "project", ID: rec.ProjectID, Expected: domain.StatusReclamation}
		}
		return rec, err
	}
	if _, err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProjectID:   rec.ProjectID,
		ActorID:     actor.ID,
		ChangeType:  domain.ChangeStatus,
		FieldName:   strPtr("status"),
		OldValue:    strPtr(domain.StatusReclamation),
		NewValue:    strPtr(domain.StatusWorkCompleted),
		Description: fmt.Sprintf("Status changed from %s to %s", domain.StatusLabel(domain.StatusReclamation), domain.StatusLabel(domain.StatusWorkCompleted)),
	}); err != nil {
		return rec, err
	}
	if _, err := e.History.AppendReclamation(ctx, tx, domain.ReclamationHistoryEntry{
		ReclamationID: id,
		Action:        domain.ReclActionCompleted,
		ActorID:       actor.ID,
		MemberID:      &member.ID,
		CrewID:        member.CrewID,
		Notes:         notes,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return e.Repo.GetReclamation(ctx, id)
}

// reclamationRaceError turns a failed conditional update into a
// definitive answer. Either the row is gone or another writer moved it
// (state or crew) between our read and the update.
func (e Engine) reclamationRaceError(ctx context.Context, id int64, expected string) error {
	if _, err := e.Repo.GetReclamation(ctx, id); err != nil {
		return err
	}
	return ConflictError{Entity: "reclamation", ID: id, Expected: expected}
}

// CrewReclamations returns the two disjoint actionable buckets for a
// crew: claims it holds and claims rejected elsewhere it may take.
func (e Engine) CrewReclamations(ctx context.Context, crewID int64, actor domain.Actor) (assigned, available []domain.Reclamation, err error) {
	crew, err := e.Repo.GetCrew(ctx, crewID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireFirm(actor, crew.FirmID); err != nil {
		return nil, nil, err
	}
	assigned, err = e.Repo.AssignedReclamations(ctx, crewID)
	if err != nil {
		return nil, nil, err
	}
	available, err = e.Repo.AvailableReclamations(ctx, crewID)
	if err != nil {
		return nil, nil, err
	}
	return assigned, available, nil
}
