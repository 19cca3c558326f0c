package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sunline/internal/app"
	"sunline/internal/config"
	"sunline/internal/db"
	"sunline/internal/domain"
	"sunline/internal/engine"
	"sunline/internal/repo"
	"sunline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Sunline CLI",
	Long: `Sunline tracks solar installation projects from planning to payment.
Core concepts:
- Workspace: your .sunline directory holding the database; sunline.yml names the firm.
- Project: one installation, moving planning -> equipment -> work -> invoiced -> paid.
- Crews: the teams doing the work; assigning a crew freezes a snapshot of its members.
- History: every change lands in an append-only audit log per project.
- Reclamations: defect claims on completed projects, routed between crews until fixed.
- Invoices: issued through the external payment provider and reconciled back.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SUNLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", domain.RoleAdmin, "actor role (admin, project-lead, worker)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(firmCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(crewCmd())
	rootCmd.AddCommand(reclamationCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// cliActor builds the acting identity from flags. The local CLI runs
// as admin by default; firm scoping still applies through the role.
func cliActor(a *app.App) domain.Actor {
	return domain.Actor{
		ID:      viper.GetString("actor-id"),
		Role:    viper.GetString("role"),
		FirmIDs: []int64{a.Firm.ID},
	}
}

func firmCmd() *cobra.Command {
	firm := &cobra.Command{Use: "firm", Short: "Manage firms"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a firm and write sunline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("Firm %q ready (id=%d), config at %s\n", a.Firm.Name, a.Firm.ID, cfgPath)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "firm name")
	firm.AddCommand(create)

	firm.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List firms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListFirms(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NAME", "CREATED")
				for _, f := range items {
					t.AppendRow(table.Row{f.ID, f.Name, f.CreatedAt})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	})

	var firmID int64
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile all unpaid invoices with the payment provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id := firmID
				if id == 0 {
					id = a.Firm.ID
				}
				report, err := a.Engine.ReconcileFirm(ctx, id, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	reconcile.Flags().Int64Var(&firmID, "firm", 0, "firm id (defaults to workspace firm)")
	firm.AddCommand(reconcile)

	return firm
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectSetStatusCmd())
	prj.AddCommand(projectAssignCrewCmd())
	prj.AddCommand(projectHistoryCmd())
	prj.AddCommand(projectNoteCmd())
	prj.AddCommand(projectSnapshotsCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, lead string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
					FirmID: a.Firm.ID,
					Name:   name,
					LeadID: lead,
				}, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&lead, "lead", "", "project lead actor id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListProjects(ctx, a.Firm.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NAME", "STATUS", "CREW", "INVOICE")
				for _, p := range items {
					crew := ""
					if p.CrewID != nil {
						crew = fmt.Sprintf("%d", *p.CrewID)
					}
					inv := ""
					if p.InvoiceNumber != nil {
						inv = *p.InvoiceNumber
					}
					t.AppendRow(table.Row{p.ID, p.Name, domain.StatusLabel(p.Status), crew, inv})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Repo.GetProject(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "project id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var id int64
	var status, name string
	var crew int64
	var equipmentExpected, equipmentArrived, workStart, workEnd, invoiceNumber string
	var clientCalled, equipmentCalled bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project (fields and status transitions)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := engine.ProjectUpdateOptions{ID: id}
				flagged := func(n string) bool { return cmd.Flags().Changed(n) }
				if flagged("status") {
					opts.Status = &status
				}
				if flagged("name") {
					opts.Name = &name
				}
				if flagged("crew") {
					opts.CrewID = &crew
				}
				if flagged("equipment-expected") {
					opts.EquipmentExpectedDate = &equipmentExpected
				}
				if flagged("equipment-arrived") {
					opts.EquipmentArrivedDate = &equipmentArrived
				}
				if flagged("work-start") {
					opts.WorkStartDate = &workStart
				}
				if flagged("work-end") {
					opts.WorkEndDate = &workEnd
				}
				if flagged("invoice-number") {
					opts.InvoiceNumber = &invoiceNumber
				}
				if flagged("client-called") {
					opts.ClientCalled = &clientCalled
				}
				if flagged("equipment-called") {
					opts.EquipmentCalled = &equipmentCalled
				}
				p, err := a.Engine.UpdateProject(ctx, opts, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "project id")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().Int64Var(&crew, "crew", 0, "crew id (0 clears)")
	cmd.Flags().StringVar(&equipmentExpected, "equipment-expected", "", "equipment expected date (empty clears)")
	cmd.Flags().StringVar(&equipmentArrived, "equipment-arrived", "", "equipment arrived date")
	cmd.Flags().StringVar(&workStart, "work-start", "", "work start date")
	cmd.Flags().StringVar(&workEnd, "work-end", "", "work end date")
	cmd.Flags().StringVar(&invoiceNumber, "invoice-number", "", "invoice number")
	cmd.Flags().BoolVar(&clientCalled, "client-called", false, "client has been called")
	cmd.Flags().BoolVar(&equipmentCalled, "equipment-called", false, "equipment supplier has been called")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectSetStatusCmd() *cobra.Command {
	var id int64
	var status string
	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Move a project to a new status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.UpdateProject(ctx, engine.ProjectUpdateOptions{ID: id, Status: &status}, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "project id")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func projectAssignCrewCmd() *cobra.Command {
	var id, crew int64
	cmd := &cobra.Command{
		Use:   "assign-crew",
		Short: "Assign a crew to a project (snapshots the roster)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.UpdateProject(ctx, engine.ProjectUpdateOptions{ID: id, CrewID: &crew}, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "project id")
	cmd.Flags().Int64Var(&crew, "crew", 0, "crew id (0 clears)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("crew")
	return cmd
}

func projectHistoryCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show project history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ProjectHistory(ctx, id, cliActor(a))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("WHEN", "ACTOR", "TYPE", "DESCRIPTION")
				for _, h := range items {
					who := h.ActorID
					if h.ActorName != "" {
						who = h.ActorName
					}
					t.AppendRow(table.Row{h.CreatedAt, who, h.ChangeType, h.Description})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "project id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectNoteCmd() *cobra.Command {
	var id int64
	var body, priority string
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Add a note to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.AddNote(ctx, id, body, priority, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "project id")
	cmd.Flags().StringVar(&body, "body", "", "note text")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func projectSnapshotsCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List crew snapshots for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListSnapshots(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "project id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func crewCmd() *cobra.Command {
	crew := &cobra.Command{Use: "crew", Short: "Manage crews"}

	var name string
	var number int
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a crew",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.CreateCrew(ctx, a.Firm.ID, name, number, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "crew name")
	create.Flags().IntVar(&number, "number", 0, "crew number, unique within the firm")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("number")
	crew.AddCommand(create)

	var includeArchived bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List crews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListCrews(ctx, a.Firm.ID, includeArchived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NUMBER", "NAME", "ARCHIVED")
				for _, c := range items {
					t.AppendRow(table.Row{c.ID, c.Number, c.Name, c.Archived})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	list.Flags().BoolVar(&includeArchived, "all", false, "include archived crews")
	crew.AddCommand(list)

	var crewID int64
	var memberName, email, phone, role, actorID string
	addMember := &cobra.Command{
		Use:   "add-member",
		Short: "Add a member to a crew",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m := domain.CrewMember{
					CrewID: crewID,
					Name:   memberName,
					Email:  email,
					Phone:  phone,
					Role:   role,
				}
				if actorID != "" {
					m.ActorID = &actorID
				}
				res, err := a.Engine.AddCrewMember(ctx, m, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	addMember.Flags().Int64Var(&crewID, "crew", 0, "crew id")
	addMember.Flags().StringVar(&memberName, "name", "", "member name")
	addMember.Flags().StringVar(&email, "email", "", "member email")
	addMember.Flags().StringVar(&phone, "phone", "", "member phone")
	addMember.Flags().StringVar(&role, "member-role", "", "member role in the crew")
	addMember.Flags().StringVar(&actorID, "actor", "", "login actor id bound to this member")
	_ = addMember.MarkFlagRequired("crew")
	_ = addMember.MarkFlagRequired("name")
	crew.AddCommand(addMember)

	var archiveID int64
	archive := &cobra.Command{
		Use:   "archive",
		Short: "Archive a crew",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.ArchiveCrew(ctx, archiveID, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	archive.Flags().Int64Var(&archiveID, "id", 0, "crew id")
	_ = archive.MarkFlagRequired("id")
	crew.AddCommand(archive)

	var workID int64
	work := &cobra.Command{
		Use:   "work",
		Short: "Show assigned and available reclamations for a crew",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				assigned, available, err := a.Engine.CrewReclamations(ctx, workID, cliActor(a))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"assigned": assigned, "available": available})
				}
				t := newTable("ID", "PROJECT", "STATUS", "DEADLINE", "BUCKET")
				for _, r := range assigned {
					t.AppendRow(table.Row{r.ID, r.ProjectID, r.Status, r.Deadline, "assigned"})
				}
				for _, r := range available {
					t.AppendRow(table.Row{r.ID, r.ProjectID, r.Status, r.Deadline, "available"})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	work.Flags().Int64Var(&workID, "id", 0, "crew id")
	_ = work.MarkFlagRequired("id")
	crew.AddCommand(work)

	return crew
}

func reclamationCmd() *cobra.Command {
	rec := &cobra.Command{Use: "reclamation", Short: "Manage reclamations"}

	var projectID, crewID int64
	var description, deadline string
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a reclamation against a completed project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.CreateReclamation(ctx, engine.ReclamationCreateOptions{
					ProjectID:   projectID,
					CrewID:      crewID,
					Description: description,
					Deadline:    deadline,
				}, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	create.Flags().Int64Var(&projectID, "project", 0, "project id")
	create.Flags().Int64Var(&crewID, "crew", 0, "crew to route the claim to")
	create.Flags().StringVar(&description, "description", "", "what is wrong")
	create.Flags().StringVar(&deadline, "deadline", "", "repair deadline (date)")
	_ = create.MarkFlagRequired("project")
	_ = create.MarkFlagRequired("crew")
	_ = create.MarkFlagRequired("description")
	_ = create.MarkFlagRequired("deadline")
	rec.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "List reclamations for the firm",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListReclamationsByFirm(ctx, a.Firm.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "PROJECT", "STATUS", "CREW", "DEADLINE")
				for _, r := range items {
					t.AppendRow(table.Row{r.ID, r.ProjectID, r.Status, r.CurrentCrewID, r.Deadline})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	rec.AddCommand(list)

	action := func(use, short string, fn func(*app.App, context.Context, int64) (domain.Reclamation, error)) *cobra.Command {
		var id int64
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					r, err := fn(a, ctx, id)
					if err != nil {
						return err
					}
					return printJSONOrTable(r)
				})
			},
		}
		cmd.Flags().Int64Var(&id, "id", 0, "reclamation id")
		_ = cmd.MarkFlagRequired("id")
		return cmd
	}
	rec.AddCommand(action("accept", "Accept a reclamation", func(a *app.App, ctx context.Context, id int64) (domain.Reclamation, error) {
		return a.Engine.AcceptReclamation(ctx, id, cliActor(a))
	}))
	rec.AddCommand(action("start", "Start work on an accepted reclamation", func(a *app.App, ctx context.Context, id int64) (domain.Reclamation, error) {
		return a.Engine.StartReclamation(ctx, id, cliActor(a))
	}))
	rec.AddCommand(action("take", "Take a reclamation rejected by another crew", func(a *app.App, ctx context.Context, id int64) (domain.Reclamation, error) {
		return a.Engine.TakeReclamation(ctx, id, cliActor(a))
	}))

	var rejectID int64
	var reason string
	reject := &cobra.Command{
		Use:   "reject",
		Short: "Reject a pending reclamation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.RejectReclamation(ctx, rejectID, reason, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	reject.Flags().Int64Var(&rejectID, "id", 0, "reclamation id")
	reject.Flags().StringVar(&reason, "reason", "", "why the crew declines (min 10 characters)")
	_ = reject.MarkFlagRequired("id")
	_ = reject.MarkFlagRequired("reason")
	rec.AddCommand(reject)

	var completeID int64
	var notes string
	complete := &cobra.Command{
		Use:   "complete",
		Short: "Complete a reclamation and restore the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.CompleteReclamation(ctx, completeID, notes, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	complete.Flags().Int64Var(&completeID, "id", 0, "reclamation id")
	complete.Flags().StringVar(&notes, "notes", "", "completion notes")
	_ = complete.MarkFlagRequired("id")
	rec.AddCommand(complete)

	var historyID int64
	history := &cobra.Command{
		Use:   "history",
		Short: "Show the handoff history of a reclamation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ReclamationHistory(ctx, historyID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("WHEN", "ACTION", "ACTOR", "CREW", "NOTES")
				for _, h := range items {
					t.AppendRow(table.Row{h.CreatedAt, h.Action, h.ActorID, h.CrewID, h.Notes})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	history.Flags().Int64Var(&historyID, "id", 0, "reclamation id")
	_ = history.MarkFlagRequired("id")
	rec.AddCommand(history)

	return rec
}

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invoice", Short: "Manage invoices"}

	var projectID int64
	var amount float64
	var dueDate string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an invoice for a completed project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				i, err := a.Engine.CreateInvoice(ctx, engine.InvoiceCreateOptions{
					ProjectID: projectID,
					Amount:    amount,
					DueDate:   dueDate,
				}, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	create.Flags().Int64Var(&projectID, "project", 0, "project id")
	create.Flags().Float64Var(&amount, "amount", 0, "invoice amount")
	create.Flags().StringVar(&dueDate, "due", "", "due date")
	_ = create.MarkFlagRequired("project")
	_ = create.MarkFlagRequired("amount")
	inv.AddCommand(create)

	var showID int64
	show := &cobra.Command{
		Use:   "show",
		Short: "Show an invoice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				i, err := a.Engine.Repo.GetInvoice(ctx, showID)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	show.Flags().Int64Var(&showID, "id", 0, "invoice id")
	_ = show.MarkFlagRequired("id")
	inv.AddCommand(show)

	var paidID int64
	paid := &cobra.Command{
		Use:   "paid",
		Short: "Mark an invoice paid through the provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				i, err := a.Engine.MarkInvoicePaid(ctx, paidID, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	paid.Flags().Int64Var(&paidID, "id", 0, "invoice id")
	_ = paid.MarkFlagRequired("id")
	inv.AddCommand(paid)

	var reconcileID int64
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Sync payment state for one invoice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				updated, err := a.Engine.ReconcileInvoice(ctx, reconcileID, cliActor(a))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"updated": updated})
			})
		},
	}
	reconcile.Flags().Int64Var(&reconcileID, "id", 0, "invoice id")
	_ = reconcile.MarkFlagRequired("id")
	inv.AddCommand(reconcile)

	return inv
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var actorID, role, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret := uuid.NewString()
				firmIDs, _ := json.Marshal([]int64{a.Firm.ID})
				k := domain.APIKey{
					ID:          uuid.NewString(),
					ActorID:     actorID,
					Role:        role,
					FirmIDsJSON: string(firmIDs),
					Name:        name,
					KeyHash:     repo.HashAPIKey(secret),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				fmt.Printf("API key created (id=%s). Secret, shown once:\n%s\n", k.ID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	create.Flags().StringVar(&role, "key-role", domain.RoleWorker, "role granted to the key")
	create.Flags().StringVar(&name, "name", "", "label for the key")
	_ = create.MarkFlagRequired("actor")
	key.AddCommand(create)

	var deleteID string
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, deleteID)
			})
		},
	}
	del.Flags().StringVar(&deleteID, "id", "", "api key id")
	_ = del.MarkFlagRequired("id")
	key.AddCommand(del)

	return key
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:              a.Config.Auth.JWTSecret,
					AllowLegacyActorHeader: a.Config.Auth.AllowLegacyActorHeader,
				}
				if secret := os.Getenv("SUNLINE_JWT_SECRET"); secret != "" {
					authCfg.JWTSecret = secret
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
					return fmt.Errorf("SUNLINE_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, a.Engine)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Sunline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(headers))
	return t
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
