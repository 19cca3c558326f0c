package engine_test

import (
	"errors"
	"sync"
	"testing"

	"sunline/internal/domain"
	"sunline/internal/engine"
)

type reclamationEnv struct {
	testEnv
	Project domain.Project
	CrewA   domain.Crew
	CrewB   domain.Crew
	WorkerA domain.Actor
	WorkerB domain.Actor
}

// newReclamationEnv sets up a completed project and two crews, each with
// one member bound to a worker actor.
func newReclamationEnv(t *testing.T) reclamationEnv {
	t.Helper()
	env := newTestEnv(t)
	p := env.createProject(t, "Roof R")
	p = env.advance(t, p.ID, domain.StatusWorkCompleted)

	crewA, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Alpha", 1, env.Admin)
	if err != nil {
		t.Fatalf("create crew A: %v", err)
	}
	crewB, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Beta", 2, env.Admin)
	if err != nil {
		t.Fatalf("create crew B: %v", err)
	}
	workerA := domain.Actor{ID: "worker-a", Role: domain.RoleWorker, FirmIDs: []int64{env.Firm.ID}}
	workerB := domain.Actor{ID: "worker-b", Role: domain.RoleWorker, FirmIDs: []int64{env.Firm.ID}}
	if _, err := env.Engine.AddCrewMember(env.Ctx, domain.CrewMember{CrewID: crewA.ID, Name: "Ana", ActorID: &workerA.ID}, env.Admin); err != nil {
		t.Fatalf("add member A: %v", err)
	}
	if _, err := env.Engine.AddCrewMember(env.Ctx, domain.CrewMember{CrewID: crewB.ID, Name: "Ben", ActorID: &workerB.ID}, env.Admin); err != nil {
		t.Fatalf("add member B: %v", err)
	}
	return reclamationEnv{
		testEnv: env,
		Project: p,
		CrewA:   crewA,
		CrewB:   crewB,
		WorkerA: workerA,
		WorkerB: workerB,
	}
}

func (env reclamationEnv) createClaim(t *testing.T) domain.Reclamation {
	t.Helper()
	rec, err := env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   env.Project.ID,
		CrewID:      env.CrewA.ID,
		Description: "inverter fault after storm",
		Deadline:    "2024-06-15",
	}, env.lead())
	if err != nil {
		t.Fatalf("create reclamation: %v", err)
	}
	return rec
}

func TestReclamationRoundTrip(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)
	if rec.Status != domain.ReclamationPending {
		t.Fatalf("status = %s, want pending", rec.Status)
	}
	if rec.OriginalCrewID != env.CrewA.ID || rec.CurrentCrewID != env.CrewA.ID {
		t.Fatalf("crew routing wrong: original=%d current=%d", rec.OriginalCrewID, rec.CurrentCrewID)
	}

	p, _ := env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	if p.Status != domain.StatusReclamation {
		t.Fatalf("project status = %s, want reclamation", p.Status)
	}

	if _, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "crew is booked out until July", env.WorkerA); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := env.Engine.TakeReclamation(env.Ctx, rec.ID, env.WorkerB); err != nil {
		t.Fatalf("take: %v", err)
	}
	rec, err := env.Engine.AcceptReclamation(env.Ctx, rec.ID, env.WorkerB)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if rec.Status != domain.ReclamationAccepted || rec.CurrentCrewID != env.CrewB.ID {
		t.Fatalf("status=%s crew=%d, want accepted/%d", rec.Status, rec.CurrentCrewID, env.CrewB.ID)
	}
	// Accepting schedules the repair on the crew calendar.
	p, _ = env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	if p.WorkStartDate == nil || *p.WorkStartDate != "2024-06-15" {
		t.Fatalf("work start date not set to deadline")
	}

	rec, err = env.Engine.CompleteReclamation(env.Ctx, rec.ID, "replaced inverter", env.WorkerB)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.Status != domain.ReclamationCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
	if rec.CompletionNotes == nil || *rec.CompletionNotes != "replaced inverter" {
		t.Fatalf("completion notes not stored")
	}

	p, _ = env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	if p.Status != domain.StatusWorkCompleted {
		t.Fatalf("project status = %s, want work_completed", p.Status)
	}

	// The episode leaves exactly two project-level status changes on top
	// of the ones the happy-path walk wrote.
	n, err := env.Engine.Repo.CountHistory(env.Ctx, env.Project.ID, domain.ChangeStatus)
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	// planning->work_completed is 5 steps, plus enter and leave
	// reclamation.
	if n != 7 {
		t.Fatalf("status_change entries = %d, want 7", n)
	}

	items, err := env.Engine.Repo.ReclamationHistory(env.Ctx, rec.ID)
	if err != nil {
		t.Fatalf("reclamation history: %v", err)
	}
	want := []string{domain.ReclActionRejected, domain.ReclActionReassigned, domain.ReclActionAccepted, domain.ReclActionCompleted}
	if len(items) != len(want) {
		t.Fatalf("reclamation history length = %d, want %d", len(items), len(want))
	}
	for i, action := range want {
		if items[i].Action != action {
			t.Fatalf("history[%d] = %s, want %s", i, items[i].Action, action)
		}
	}
}

func TestStartReclamation(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)
	if _, err := env.Engine.AcceptReclamation(env.Ctx, rec.ID, env.WorkerA); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, err := env.Engine.StartReclamation(env.Ctx, rec.ID, env.WorkerA)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != domain.ReclamationInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if _, err := env.Engine.CompleteReclamation(env.Ctx, rec.ID, "done", env.WorkerA); err != nil {
		t.Fatalf("complete: %v", err)
	}
	items, _ := env.Engine.Repo.ReclamationHistory(env.Ctx, rec.ID)
	want := []string{domain.ReclActionAccepted, domain.ReclActionStarted, domain.ReclActionCompleted}
	if len(items) != len(want) {
		t.Fatalf("reclamation history length = %d, want %d", len(items), len(want))
	}
	for i, action := range want {
		if items[i].Action != action {
			t.Fatalf("history[%d] = %s, want %s", i, items[i].Action, action)
		}
	}
}

func TestCreateReclamationRequiresCompletedProject(t *testing.T) {
	env := newReclamationEnv(t)
	early := env.createProject(t, "Roof Early")
	_, err := env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   early.ID,
		CrewID:      env.CrewA.ID,
		Description: "premature claim",
		Deadline:    "2024-06-15",
	}, env.lead())
	var te engine.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TransitionError", err)
	}
}

func TestCreateReclamationRequiresLeadOrAdmin(t *testing.T) {
	env := newReclamationEnv(t)
	_, err := env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   env.Project.ID,
		CrewID:      env.CrewA.ID,
		Description: "worker filed claim",
		Deadline:    "2024-06-15",
	}, env.WorkerA)
	var ae engine.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("got %v, want AuthorizationError", err)
	}
}

func TestRejectRequiresSubstantialReason(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)
	_, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "nope", env.WorkerA)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("short reason: got %v, want ValidationError", err)
	}
	got, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "crew is booked out until July", env.WorkerA)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != domain.ReclamationRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
	// The rejecting crew stays on the record.
	if got.CurrentCrewID != env.CrewA.ID {
		t.Fatalf("current crew = %d, want %d", got.CurrentCrewID, env.CrewA.ID)
	}
}

func TestRejectedClaimHandoff(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)
	if _, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "crew is booked out until July", env.WorkerA); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// The rejecting crew cannot pick its own rejection back up.
	_, err := env.Engine.TakeReclamation(env.Ctx, rec.ID, env.WorkerA)
	var ae engine.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("own rejection: got %v, want AuthorizationError", err)
	}
	_, err = env.Engine.AcceptReclamation(env.Ctx, rec.ID, env.WorkerA)
	if !errors.As(err, &ae) {
		t.Fatalf("own rejection accept: got %v, want AuthorizationError", err)
	}

	got, err := env.Engine.TakeReclamation(env.Ctx, rec.ID, env.WorkerB)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got.Status != domain.ReclamationPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.CurrentCrewID != env.CrewB.ID {
		t.Fatalf("current crew = %d, want %d", got.CurrentCrewID, env.CrewB.ID)
	}
	if got.OriginalCrewID != env.CrewA.ID {
		t.Fatalf("original crew rewritten to %d", got.OriginalCrewID)
	}

	items, _ := env.Engine.Repo.ReclamationHistory(env.Ctx, rec.ID)
	last := items[len(items)-1]
	if last.Action != domain.ReclActionReassigned || last.CrewID != env.CrewB.ID {
		t.Fatalf("handoff not recorded: action=%s crew=%d", last.Action, last.CrewID)
	}
}

func TestAcceptDirectlyFromRejected(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)
	if _, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "crew is booked out until July", env.WorkerA); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, err := env.Engine.AcceptReclamation(env.Ctx, rec.ID, env.WorkerB)
	if err != nil {
		t.Fatalf("accept from rejected: %v", err)
	}
	if got.Status != domain.ReclamationAccepted || got.CurrentCrewID != env.CrewB.ID {
		t.Fatalf("status=%s crew=%d, want accepted/%d", got.Status, got.CurrentCrewID, env.CrewB.ID)
	}
}

func TestReclamationWrongCrewAndState(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)

	// Pending claims belong to the routed crew only.
	_, err := env.Engine.AcceptReclamation(env.Ctx, rec.ID, env.WorkerB)
	var ae engine.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("foreign accept: got %v, want AuthorizationError", err)
	}

	// Start and take only apply to their source states.
	_, err = env.Engine.StartReclamation(env.Ctx, rec.ID, env.WorkerA)
	var te engine.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("start from pending: got %v, want TransitionError", err)
	}
	_, err = env.Engine.TakeReclamation(env.Ctx, rec.ID, env.WorkerB)
	if !errors.As(err, &te) {
		t.Fatalf("take from pending: got %v, want TransitionError", err)
	}

	// Actors without a crew binding cannot act at all.
	_, err = env.Engine.AcceptReclamation(env.Ctx, rec.ID, env.lead())
	if !errors.As(err, &ae) {
		t.Fatalf("unbound actor: got %v, want AuthorizationError", err)
	}
}

func TestCompleteRequiresAcceptedOrInProgress(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)
	_, err := env.Engine.CompleteReclamation(env.Ctx, rec.ID, "", env.WorkerA)
	var te engine.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("complete from pending: got %v, want TransitionError", err)
	}
	if _, err := env.Engine.AcceptReclamation(env.Ctx, rec.ID, env.WorkerA); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// Accepted completes without an intermediate start.
	got, err := env.Engine.CompleteReclamation(env.Ctx, rec.ID, "", env.WorkerA)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != domain.ReclamationCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)
	if _, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "crew is booked out until July", env.WorkerA); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// A rejected claim is open to both remaining crews. Race them.
	crewC, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Gamma", 3, env.Admin)
	if err != nil {
		t.Fatalf("create crew C: %v", err)
	}
	workerC := domain.Actor{ID: "worker-c", Role: domain.RoleWorker, FirmIDs: []int64{env.Firm.ID}}
	if _, err := env.Engine.AddCrewMember(env.Ctx, domain.CrewMember{CrewID: crewC.ID, Name: "Cleo", ActorID: &workerC.ID}, env.Admin); err != nil {
		t.Fatalf("add member C: %v", err)
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, actor := range []domain.Actor{env.WorkerB, workerC} {
		wg.Add(1)
		go func(i int, actor domain.Actor) {
			defer wg.Done()
			_, errs[i] = env.Engine.AcceptReclamation(env.Ctx, rec.ID, actor)
		}(i, actor)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		var ce engine.ConflictError
		var te engine.TransitionError
		if !errors.As(err, &ce) && !errors.As(err, &te) {
			t.Fatalf("loser error = %v, want ConflictError or TransitionError", err)
		}
		lost++
	}
	if won != 1 || lost != 1 {
		t.Fatalf("winners = %d, losers = %d, want exactly one of each (%v)", won, lost, errs)
	}

	got, _ := env.Engine.Repo.GetReclamation(env.Ctx, rec.ID)
	if got.Status != domain.ReclamationAccepted {
		t.Fatalf("status = %s, want accepted", got.Status)
	}
	if got.CurrentCrewID != env.CrewB.ID && got.CurrentCrewID != crewC.ID {
		t.Fatalf("current crew = %d, want one of the racers", got.CurrentCrewID)
	}
	items, _ := env.Engine.Repo.ReclamationHistory(env.Ctx, rec.ID)
	// rejected plus exactly one accepted; the loser must not have
	// written anything.
	if len(items) != 2 || items[1].Action != domain.ReclActionAccepted {
		t.Fatalf("reclamation history = %d rows", len(items))
	}
}

func TestCrewReclamationBuckets(t *testing.T) {
	env := newReclamationEnv(t)
	rec := env.createClaim(t)

	assigned, available, err := env.Engine.CrewReclamations(env.Ctx, env.CrewA.ID, env.WorkerA)
	if err != nil {
		t.Fatalf("crew reclamations: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != rec.ID {
		t.Fatalf("crew A assigned = %d claims", len(assigned))
	}
	if len(available) != 0 {
		t.Fatalf("crew A available = %d claims, want 0", len(available))
	}

	if _, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "crew is booked out until July", env.WorkerA); err != nil {
		t.Fatalf("reject: %v", err)
	}
	assigned, available, err = env.Engine.CrewReclamations(env.Ctx, env.CrewB.ID, env.WorkerB)
	if err != nil {
		t.Fatalf("crew reclamations: %v", err)
	}
	if len(assigned) != 0 {
		t.Fatalf("crew B assigned = %d claims, want 0", len(assigned))
	}
	if len(available) != 1 || available[0].ID != rec.ID {
		t.Fatalf("crew B available = %d claims, want the rejected one", len(available))
	}

	// The rejecting crew does not see its own rejection as available.
	_, available, err = env.Engine.CrewReclamations(env.Ctx, env.CrewA.ID, env.WorkerA)
	if err != nil {
		t.Fatalf("crew reclamations: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("crew A available = %d claims, want 0", len(available))
	}
}
