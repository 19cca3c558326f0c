package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"sunline/internal/config"
	"sunline/internal/db"
	"sunline/internal/domain"
	"sunline/internal/engine"
	"sunline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Firm   domain.Firm
	Admin  domain.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("Test Solar")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	firm, err := eng.Repo.InsertFirm(ctx, "Test Solar")
	if err != nil {
		t.Fatalf("insert firm: %v", err)
	}
	return testEnv{
		Engine: eng,
		Ctx:    ctx,
		Firm:   firm,
		Admin:  domain.Actor{ID: "admin-1", Role: domain.RoleAdmin},
	}
}

func (env testEnv) lead() domain.Actor {
	return domain.Actor{ID: "lead-1", Role: domain.RoleProjectLead, FirmIDs: []int64{env.Firm.ID}}
}

func (env testEnv) createProject(t *testing.T, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		FirmID: env.Firm.ID,
		Name:   name,
	}, env.lead())
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) setStatus(t *testing.T, projectID int64, status string, actor domain.Actor) domain.Project {
	t.Helper()
	p, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: projectID, Status: &status}, actor)
	if err != nil {
		t.Fatalf("set status %s: %v", status, err)
	}
	return p
}

// advance walks a project along the happy path up to target.
func (env testEnv) advance(t *testing.T, projectID int64, target string) domain.Project {
	t.Helper()
	order := []string{
		domain.StatusEquipmentWaiting,
		domain.StatusEquipmentArrived,
		domain.StatusWorkScheduled,
		domain.StatusWorkInProgress,
		domain.StatusWorkCompleted,
		domain.StatusInvoiced,
		domain.StatusSendInvoice,
		domain.StatusInvoiceSent,
	}
	var p domain.Project
	for _, s := range order {
		p = env.setStatus(t, projectID, s, env.lead())
		if s == target {
			return p
		}
	}
	t.Fatalf("advance: unknown target %s", target)
	return p
}

func TestProjectStartsInPlanning(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof A")
	if p.Status != domain.StatusPlanning {
		t.Fatalf("status = %s, want planning", p.Status)
	}
	items, err := env.Engine.ProjectHistory(env.Ctx, p.ID, env.lead())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 1 || items[0].ChangeType != domain.ChangeCreated {
		t.Fatalf("expected single created entry, got %d entries", len(items))
	}
}

func TestProjectStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof B")
	p = env.advance(t, p.ID, domain.StatusInvoiceSent)
	if p.Status != domain.StatusInvoiceSent {
		t.Fatalf("status = %s", p.Status)
	}

	unknown := "not_a_status"
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Status: &unknown}, env.lead())
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("unknown status: got %v, want ValidationError", err)
	}

	recl := domain.StatusReclamation
	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Status: &recl}, env.Admin)
	var te engine.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("manual reclamation: got %v, want TransitionError", err)
	}
}

func TestDoneIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof C")
	env.advance(t, p.ID, domain.StatusInvoiceSent)
	env.setStatus(t, p.ID, domain.StatusPaid, env.Admin)
	env.setStatus(t, p.ID, domain.StatusDone, env.Admin)

	back := domain.StatusPlanning
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Status: &back}, env.Admin)
	var te engine.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("leaving done: got %v, want TransitionError", err)
	}
}

func TestPaidRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof D")
	env.advance(t, p.ID, domain.StatusInvoiceSent)

	paid := domain.StatusPaid
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Status: &paid}, env.lead())
	var ae engine.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("lead setting paid: got %v, want AuthorizationError", err)
	}
	got := env.setStatus(t, p.ID, domain.StatusPaid, env.Admin)
	if got.Status != domain.StatusPaid {
		t.Fatalf("status = %s, want paid", got.Status)
	}
}

func TestUpdateWritesOneHistoryRowPerField(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof E")

	name := "Roof E2"
	start := "2024-06-01"
	called := true
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{
		ID:            p.ID,
		Name:          &name,
		WorkStartDate: &start,
		ClientCalled:  &called,
	}, env.lead())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	items, err := env.Engine.ProjectHistory(env.Ctx, p.ID, env.lead())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// created + name + work_start_date + client_called
	if len(items) != 4 {
		t.Fatalf("history length = %d, want 4", len(items))
	}

	// Same values again: nothing changed, nothing logged.
	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{
		ID:            p.ID,
		Name:          &name,
		WorkStartDate: &start,
		ClientCalled:  &called,
	}, env.lead())
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	items, _ = env.Engine.ProjectHistory(env.Ctx, p.ID, env.lead())
	if len(items) != 4 {
		t.Fatalf("no-op grew history to %d", len(items))
	}
}

func TestInvoiceNumberGatedOnInvoicedStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof F")
	num := "INV-100"
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, InvoiceNumber: &num}, env.lead())
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("invoice number before invoicing: got %v, want ValidationError", err)
	}
	env.advance(t, p.ID, domain.StatusInvoiced)
	got, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, InvoiceNumber: &num}, env.lead())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.InvoiceNumber == nil || *got.InvoiceNumber != num {
		t.Fatalf("invoice number not set")
	}
}

func TestFirmScope(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof G")
	outsider := domain.Actor{ID: "other-lead", Role: domain.RoleProjectLead, FirmIDs: []int64{env.Firm.ID + 99}}
	name := "hijack"
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Name: &name}, outsider)
	var ae engine.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("cross-firm update: got %v, want AuthorizationError", err)
	}
}

func TestCrewAssignmentCapturesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof H")
	crew, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Alpha", 1, env.Admin)
	if err != nil {
		t.Fatalf("create crew: %v", err)
	}
	for _, name := range []string{"Ana", "Ben"} {
		if _, err := env.Engine.AddCrewMember(env.Ctx, domain.CrewMember{CrewID: crew.ID, Name: name}, env.Admin); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, CrewID: &crew.ID}, env.lead()); err != nil {
		t.Fatalf("assign crew: %v", err)
	}

	snaps, err := env.Engine.Repo.ListSnapshots(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	var members []domain.CrewMember
	if err := json.Unmarshal([]byte(snaps[0].MembersJSON), &members); err != nil {
		t.Fatalf("unmarshal members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("snapshot members = %d, want 2", len(members))
	}

	// The assignment entry references the snapshot and describes the
	// roster as captured.
	items, _ := env.Engine.ProjectHistory(env.Ctx, p.ID, env.lead())
	var assignment *domain.HistoryView
	for i := range items {
		if items[i].ChangeType == domain.ChangeAssignment {
			assignment = &items[i]
		}
	}
	if assignment == nil {
		t.Fatalf("no assignment_change entry")
	}
	if assignment.SnapshotID == nil || *assignment.SnapshotID != snaps[0].ID {
		t.Fatalf("assignment entry not linked to snapshot")
	}
}

func TestSnapshotImmutableAfterCrewEdits(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof I")
	crew, _ := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Alpha", 1, env.Admin)
	for _, name := range []string{"Ana", "Ben"} {
		env.Engine.AddCrewMember(env.Ctx, domain.CrewMember{CrewID: crew.ID, Name: name}, env.Admin)
	}
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, CrewID: &crew.ID}, env.lead()); err != nil {
		t.Fatalf("assign crew: %v", err)
	}

	// Grow the live crew, then assign again through a detour.
	env.Engine.AddCrewMember(env.Ctx, domain.CrewMember{CrewID: crew.ID, Name: "Cleo"}, env.Admin)
	zero := int64(0)
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, CrewID: &zero}, env.lead()); err != nil {
		t.Fatalf("clear crew: %v", err)
	}
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, CrewID: &crew.ID}, env.lead()); err != nil {
		t.Fatalf("reassign crew: %v", err)
	}

	snaps, _ := env.Engine.Repo.ListSnapshots(env.Ctx, p.ID)
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	var first, second []domain.CrewMember
	json.Unmarshal([]byte(snaps[0].MembersJSON), &first)
	json.Unmarshal([]byte(snaps[1].MembersJSON), &second)
	if len(first) != 2 {
		t.Fatalf("first snapshot mutated: %d members", len(first))
	}
	if len(second) != 3 {
		t.Fatalf("second snapshot members = %d, want 3", len(second))
	}
}

func TestCrewFromOtherFirmRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof J")
	other, err := env.Engine.Repo.InsertFirm(env.Ctx, "Other Firm")
	if err != nil {
		t.Fatalf("insert firm: %v", err)
	}
	crew, err := env.Engine.CreateCrew(env.Ctx, other.ID, "Theirs", 1, env.Admin)
	if err != nil {
		t.Fatalf("create crew: %v", err)
	}
	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, CrewID: &crew.ID}, env.Admin)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("foreign crew: got %v, want ValidationError", err)
	}
}

func TestArchivedCrewRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof K")
	crew, _ := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Alpha", 1, env.Admin)
	if _, err := env.Engine.ArchiveCrew(env.Ctx, crew.ID, env.Admin); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, CrewID: &crew.ID}, env.Admin)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("archived crew: got %v, want ValidationError", err)
	}
}

func TestDuplicateCrewNumberRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Alpha", 7, env.Admin); err != nil {
		t.Fatalf("create crew: %v", err)
	}
	_, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Beta", 7, env.Admin)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("duplicate number: got %v, want ValidationError", err)
	}
}

func TestAddNoteLinksHistoryRow(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof L")
	n, err := env.Engine.AddNote(env.Ctx, p.ID, "panel cracked on delivery", "high", env.lead())
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	items, _ := env.Engine.ProjectHistory(env.Ctx, p.ID, env.lead())
	var entry *domain.HistoryView
	for i := range items {
		if items[i].ChangeType == domain.ChangeNoteAdded {
			entry = &items[i]
		}
	}
	if entry == nil {
		t.Fatalf("no note_added entry")
	}
	if entry.NoteID == nil || *entry.NoteID != n.ID {
		t.Fatalf("note_added entry not keyed to note")
	}
	if entry.NotePriority == nil || *entry.NotePriority != "high" {
		t.Fatalf("note priority not surfaced in history view")
	}
}
