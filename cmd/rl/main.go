package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rotaline/internal/app"
	"rotaline/internal/config"
	"rotaline/internal/db"
	"rotaline/internal/domain"
	"rotaline/internal/engine"
	"rotaline/internal/migrate"
	"rotaline/internal/repo"
	"rotaline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Rotaline CLI",
	Long: `Rotaline plans life around a rotating shift schedule.
Core concepts:
- Cycle: your repeating shift pattern (e.g. 5 days, 5 nights, 5 off) anchored to a real date; every calendar day derives from it.
- Settings: the single source of truth per owner: cycle, work parameters, commitments, leave blocks, constraints.
- Commitments: recurring activities (education, study, personal) that claim free hours on matching days.
- Leave: date blocks that override the cycle (suspended by default).
- Constraints: rules the plan must respect (no study on night shifts, limits, recovery gaps). System rules cannot be removed.
- Mutations: every change is proposed first, checked against constraints, then approved or rejected. Approvals apply atomically.
- Snapshots: each applied change is a hash-linked checkpoint; undo/redo walk the chain, 'rl snapshot verify' audits it.`,
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
	viper.SetEnvPrefix("ROTALINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("owner", "", "owner id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(commitmentCmd())
	rootCmd.AddCommand(leaveCmd())
	rootCmd.AddCommand(constraintCmd())
	rootCmd.AddCommand(mutationCmd())
	rootCmd.AddCommand(undoCmd())
	rootCmd.AddCommand(redoCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(ownerID)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			} else {
				fmt.Printf("%s already exists, leaving it untouched\n", path)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Workspace ready for owner %s\n", ownerID)
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "local-user", "owner id")
	return cmd
}

func cycleCmd() *cobra.Command {
	cycle := &cobra.Command{
		Use:   "cycle",
		Short: "Manage the shift cycle",
		Long:  "The cycle is the repeating shift pattern every calendar day derives from. Changing it goes through the proposal pipeline like any other mutation.",
	}
	cycle.AddCommand(cycleSetCmd())
	cycle.AddCommand(cycleShowCmd())
	return cycle
}

func cycleSetCmd() *cobra.Command {
	var pattern, anchor string
	var anchorDay int
	var apply bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Propose a new cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			blocks, err := parsePattern(pattern)
			if err != nil {
				return err
			}
			c := domain.Command{
				Intent: domain.IntentUpdateCycle,
				Cycle: &domain.Cycle{
					Pattern:        blocks,
					AnchorDate:     anchor,
					AnchorCycleDay: anchorDay,
				},
			}
			return proposeAndMaybeApply(cmd.Context(), c, apply)
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "pattern as label:days comma list, e.g. work_day:5,work_night:5,off:5")
	cmd.Flags().StringVar(&anchor, "anchor", "", "anchor date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&anchorDay, "anchor-day", 1, "cycle day the anchor date falls on")
	cmd.Flags().BoolVar(&apply, "apply", false, "approve immediately")
	_ = cmd.MarkFlagRequired("pattern")
	_ = cmd.MarkFlagRequired("anchor")
	return cmd
}

func cycleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				doc, err := e.GetSettings(ctx, viper.GetString("owner-resolved"))
				if err != nil {
					return err
				}
				if doc.Settings.Cycle == nil {
					return fmt.Errorf("no cycle configured; run rl cycle set")
				}
				if viper.GetBool("json") {
					return printJSON(doc.Settings.Cycle)
				}
				c := doc.Settings.Cycle
				fmt.Printf("Anchor: %s (cycle day %d), length %d days\n", c.AnchorDate, c.AnchorCycleDay, c.Length())
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Label", "Days"})
				for _, b := range c.Pattern {
					tw.AppendRow(table.Row{b.Label, b.Duration})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func commitmentCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "commitment",
		Short: "Manage commitments",
		Long:  "Commitments are recurring activities that claim free hours on the days their recurrence matches. Adding or removing one is a proposed mutation.",
	}
	c.AddCommand(commitmentAddCmd())
	c.AddCommand(commitmentListCmd())
	c.AddCommand(commitmentPlanCmd())
	c.AddCommand(commitmentRemoveCmd())
	return c
}

func commitmentAddCmd() *cobra.Command {
	var name, ctype, recurrence, start, end, notes string
	var days []string
	var monthDays []int
	var hours float64
	var priority, totalSessions int
	var apply bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Propose a new commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := domain.Command{
				Intent: domain.IntentAddCommitment,
				Commitment: &domain.Commitment{
					Name:     name,
					Type:     domain.CommitmentType(ctype),
					Priority: priority,
					Status:   domain.CommitmentActive,
					Recurrence: domain.Recurrence{
						Kind:      domain.RecurrenceKind(recurrence),
						Days:      days,
						MonthDays: monthDays,
					},
					StartDate:     start,
					EndDate:       end,
					DurationHours: hours,
					TotalSessions: totalSessions,
					Notes:         notes,
				},
			}
			return proposeAndMaybeApply(cmd.Context(), c, apply)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "commitment name")
	cmd.Flags().StringVar(&ctype, "type", "personal", "type (education, study, personal, leave, work)")
	cmd.Flags().StringVar(&recurrence, "recurrence", "weekly", "recurrence kind (daily, weekly, biweekly, monthly)")
	cmd.Flags().StringArrayVar(&days, "on", []string{}, "weekday name (repeatable, weekly/biweekly)")
	cmd.Flags().IntSliceVar(&monthDays, "month-days", []int{}, "days of month (monthly)")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&hours, "hours", 1, "duration in hours per occurrence")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower is higher)")
	cmd.Flags().IntVar(&totalSessions, "total-sessions", 0, "number of sessions before completion (0 = open-ended)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().BoolVar(&apply, "apply", false, "approve immediately")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func commitmentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commitments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				doc, err := e.GetSettings(ctx, viper.GetString("owner-resolved"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc.Settings.Commitments)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Recurrence", "Hours"})
				for _, c := range doc.Settings.Commitments {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Type, c.Status, c.Recurrence.Kind, c.DurationHours})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func commitmentPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <id>",
		Short: "Show the validated occurrence plan for a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.CommitmentPlan(ctx, viper.GetString("owner-resolved"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Accepted", "Rerouted To", "Overrun", "Reasons"})
				for _, o := range p.Occurrences {
					tw.AppendRow(table.Row{o.Date, o.Accepted, o.ReroutedTo, o.Overrun, strings.Join(o.Reasons, "; ")})
				}
				tw.Render()
				fmt.Printf("Accepted: %d, rejected: %d\n", p.Accepted, p.Rejected)
				return nil
			})
		},
	}
	return cmd
}

func commitmentRemoveCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Propose removing a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := domain.Command{Intent: domain.IntentRemoveCommitment, CommitmentID: args[0]}
			return proposeAndMaybeApply(cmd.Context(), c, apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "approve immediately")
	return cmd
}

func leaveCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "leave",
		Short: "Manage leave blocks",
		Long:  "Leave blocks override the cycle for a date range, suspending shifts by default.",
	}
	l.AddCommand(leaveAddCmd())
	l.AddCommand(leaveListCmd())
	l.AddCommand(leaveRemoveCmd())
	return l
}

func leaveAddCmd() *cobra.Command {
	var name, start, end, workType string
	var hours float64
	var apply bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Propose a leave block",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := &domain.LeaveBlock{Name: name, StartDate: start, EndDate: end}
			if workType != "" {
				l.Effect = &domain.LeaveEffect{
					WorkType:       domain.WorkType(workType),
					AvailableHours: hours,
				}
			}
			c := domain.Command{Intent: domain.IntentAddLeave, Leave: l}
			return proposeAndMaybeApply(cmd.Context(), c, apply)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "leave name")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&workType, "work-type", "", "override work type (default suspended)")
	cmd.Flags().Float64Var(&hours, "hours", 16, "available hours with --work-type")
	cmd.Flags().BoolVar(&apply, "apply", false, "approve immediately")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func leaveListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leave blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				doc, err := e.GetSettings(ctx, viper.GetString("owner-resolved"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc.Settings.LeaveBlocks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "From", "To"})
				for _, l := range doc.Settings.LeaveBlocks {
					tw.AppendRow(table.Row{l.ID, l.Name, l.StartDate, l.EndDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func leaveRemoveCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Propose removing a leave block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := domain.Command{Intent: domain.IntentRemoveLeave, LeaveID: args[0]}
			return proposeAndMaybeApply(cmd.Context(), c, apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "approve immediately")
	return cmd
}

func constraintCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "constraint",
		Short: "Manage constraints",
		Long:  "Constraints are the rules every proposal is checked against. System constraints are seeded and cannot be removed.",
	}
	c.AddCommand(constraintListCmd())
	c.AddCommand(constraintSetCmd())
	c.AddCommand(constraintRemoveCmd())
	return c
}

func constraintListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				doc, err := e.GetSettings(ctx, viper.GetString("owner-resolved"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc.Settings.Constraints)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Rule", "Weight", "Critical", "System", "Active"})
				for _, c := range doc.Settings.Constraints {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Rule.Kind, c.Weight, c.Critical, c.System, c.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func constraintSetCmd() *cobra.Command {
	var id, name, ruleJSON string
	var weight int
	var critical, apply bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Propose adding or updating a constraint",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rule domain.Rule
			if err := json.Unmarshal([]byte(ruleJSON), &rule); err != nil {
				return fmt.Errorf("invalid --rule-json: %w", err)
			}
			c := domain.Command{
				Intent: domain.IntentUpdateConstraint,
				Constraint: &domain.Constraint{
					ID:       id,
					Name:     name,
					Rule:     rule,
					Weight:   weight,
					Critical: critical,
					Active:   true,
				},
			}
			return proposeAndMaybeApply(cmd.Context(), c, apply)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "constraint id (empty adds a new one)")
	cmd.Flags().StringVar(&name, "name", "", "constraint name")
	cmd.Flags().StringVar(&ruleJSON, "rule-json", "", `rule JSON, e.g. {"kind":"no_activity_on","activity":"study","work_types":["work_night"]}`)
	cmd.Flags().IntVar(&weight, "weight", 0, "weight (weighted mode)")
	cmd.Flags().BoolVar(&critical, "critical", false, "critical rules cannot be overridden")
	cmd.Flags().BoolVar(&apply, "apply", false, "approve immediately")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("rule-json")
	return cmd
}

func constraintRemoveCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Propose removing a constraint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := domain.Command{Intent: domain.IntentRemoveConstraint, ConstraintID: args[0]}
			return proposeAndMaybeApply(cmd.Context(), c, apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "approve immediately")
	return cmd
}

func mutationCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "mutation",
		Short: "Review proposed changes",
		Long:  "Every change enters as a proposal. Review it here: approve applies it atomically, reject declines it, expired proposals can no longer be reviewed.",
	}
	m.AddCommand(mutationListCmd())
	m.AddCommand(mutationShowCmd())
	m.AddCommand(mutationApproveCmd())
	m.AddCommand(mutationRejectCmd())
	m.AddCommand(mutationCancelCmd())
	m.AddCommand(mutationExpireCmd())
	return m
}

func mutationListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mutations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListMutations(ctx, repo.MutationFilters{
					OwnerID: viper.GetString("owner-resolved"),
					Status:  status,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Intent", "Status", "Exec", "Violations", "Proposed"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Intent, m.Status, m.Exec, len(m.Violations), m.ProposedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (proposed, approved, rejected, expired)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func mutationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a mutation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.GetMutation(ctx, viper.GetString("owner-resolved"), args[0])
				if err != nil {
					return err
				}
				return printMutation(m)
			})
		},
	}
	return cmd
}

func mutationApproveCmd() *cobra.Command {
	var override bool
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve and apply a mutation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.Approve(ctx, viper.GetString("owner-resolved"), args[0], override, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printMutation(m)
			})
		},
	}
	cmd.Flags().BoolVar(&override, "override", false, "waive non-critical violations")
	return cmd
}

func mutationRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a mutation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.Reject(ctx, viper.GetString("owner-resolved"), args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printMutation(m)
			})
		},
	}
	return cmd
}

func mutationCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Withdraw a mutation you proposed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.Cancel(ctx, viper.GetString("owner-resolved"), args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printMutation(m)
			})
		},
	}
	return cmd
}

func mutationExpireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Sweep proposals past their expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ids, err := e.ExpireStale(ctx, viper.GetString("owner-resolved"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"expired": ids})
				}
				fmt.Printf("Expired %d proposal(s)\n", len(ids))
				return nil
			})
		},
	}
	return cmd
}

func undoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo the last applied mutation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.Undo(ctx, viper.GetString("owner-resolved"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printMutation(m)
			})
		},
	}
	return cmd
}

func redoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redo",
		Short: "Redo the last undone mutation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.Redo(ctx, viper.GetString("owner-resolved"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printMutation(m)
			})
		},
	}
	return cmd
}

func calendarCmd() *cobra.Command {
	var from, to string
	var days int
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show materialized days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				from = time.Now().UTC().Format("2006-01-02")
			}
			if to == "" {
				start, err := time.Parse("2006-01-02", from)
				if err != nil {
					return fmt.Errorf("invalid --from date %q", from)
				}
				to = start.AddDate(0, 0, days-1).Format("2006-01-02")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Calendar(ctx, viper.GetString("owner-resolved"), from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Cycle", "Type", "Free", "Used", "Commitments", "Flags"})
				for _, d := range items {
					names := make([]string, 0, len(d.Commitments))
					for _, dc := range d.Commitments {
						names = append(names, fmt.Sprintf("%s (%gh)", dc.Name, dc.Hours))
					}
					var flags []string
					if d.Overloaded {
						flags = append(flags, "overloaded")
					}
					if d.OnLeave {
						flags = append(flags, "leave")
					}
					tw.AppendRow(table.Row{
						d.Date, d.CycleDay, d.WorkType, d.AvailableHours, d.UsedHours,
						strings.Join(names, ", "), strings.Join(flags, ","),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date (default today)")
	cmd.Flags().StringVar(&to, "to", "", "end date")
	cmd.Flags().IntVar(&days, "days", 14, "number of days when --to is omitted")
	return cmd
}

func settingsCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and tune the settings document",
	}
	s.AddCommand(settingsShowCmd())
	s.AddCommand(settingsSetModeCmd())
	return s
}

func settingsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the settings document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				doc, err := e.GetSettings(ctx, viper.GetString("owner-resolved"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(doc)
			})
		},
	}
	return cmd
}

func settingsSetModeCmd() *cobra.Command {
	var threshold int
	cmd := &cobra.Command{
		Use:   "set-mode <binary|weighted>",
		Short: "Switch constraint evaluation mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := domain.ConstraintMode(args[0])
			if mode != domain.ModeBinary && mode != domain.ModeWeighted {
				return fmt.Errorf("mode must be binary or weighted")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				owner := viper.GetString("owner-resolved")
				doc, err := e.GetSettings(ctx, owner)
				if err != nil {
					return err
				}
				next := doc.Settings
				next.Preferences.ConstraintMode = mode
				if cmd.Flags().Changed("threshold") {
					next.Preferences.AcceptThreshold = threshold
				}
				updated, err := e.UpdateSettings(ctx, owner, next, doc.Version, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(updated.Settings.Preferences)
			})
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 10, "accept threshold for weighted mode")
	return cmd
}

func statsCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "stats",
		Short: "Derived statistics",
	}
	s.AddCommand(statsYearCmd())
	s.AddCommand(statsMonthCmd())
	s.AddCommand(statsDashboardCmd())
	return s
}

func statsYearCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "year",
		Short: "Yearly breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				year = time.Now().UTC().Year()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.YearlyStats(ctx, viper.GetString("owner-resolved"), year)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%d: %d work days, %d nights, %d off, %d on leave\n", s.Year, s.WorkDays, s.NightDays, s.OffDays, s.LeaveDays)
				fmt.Printf("Committed %.1fh (%.1fh study), %d overloaded day(s), %d zero-recovery span(s)\n",
					s.CommittedHours, s.StudyHours, s.OverloadedDays, s.ZeroRecoverySpans)
				if len(s.PeakWeeks) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Week Of", "Hours"})
					for _, w := range s.PeakWeeks {
						tw.AppendRow(table.Row{w.WeekStart, w.Hours})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year (default current)")
	return cmd
}

func statsMonthCmd() *cobra.Command {
	var year, month int
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Monthly breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if year == 0 {
				year = now.Year()
			}
			if month == 0 {
				month = int(now.Month())
			}
			if month < 1 || month > 12 {
				return fmt.Errorf("--month must be in [1,12]")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.MonthlyStats(ctx, viper.GetString("owner-resolved"), year, time.Month(month))
				if err != nil {
					return err
				}
				return printJSONOrIndent(s)
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year (default current)")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12 (default current)")
	return cmd
}

func statsDashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Today and the week ahead",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.DashboardStats(ctx, viper.GetString("owner-resolved"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				if s.Today != nil {
					fmt.Printf("Today: %s (%s), %.1fh free, %.1fh used\n", s.Today.Date, s.Today.WorkType, s.Today.AvailableHours, s.Today.UsedHours)
				}
				fmt.Printf("Active commitments: %d, pending proposals: %d, study this week: %.1fh\n",
					s.ActiveCommitments, s.PendingProposals, s.WeekStudyHours)
				if s.NextLeave != nil {
					fmt.Printf("Next leave: %s to %s\n", s.NextLeave.StartDate, s.NextLeave.EndDate)
				}
				return nil
			})
		},
	}
	return cmd
}

func snapshotCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the snapshot chain",
	}
	s.AddCommand(snapshotListCmd())
	s.AddCommand(snapshotVerifyCmd())
	return s
}

func snapshotListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots in sequence order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListSnapshots(ctx, viper.GetString("owner-resolved"), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Hash", "Parent", "Mutation", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Seq, shortHash(s.StateHash), shortHash(s.ParentHash), s.MutationID, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (0 for all)")
	return cmd
}

func snapshotVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash the chain and check its links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				err := e.VerifyChain(ctx, viper.GetString("owner-resolved"))
				if viper.GetBool("json") {
					return printJSON(map[string]any{"valid": err == nil, "error": fmt.Sprint(err)})
				}
				if err != nil {
					return err
				}
				fmt.Println("chain OK")
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: proposals, reviews, applies, undo and redo.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, viper.GetString("owner-resolved"), evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyListCmd())
	a.AddCommand(apikeyDeleteCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": actor, "key": raw})
				}
				fmt.Printf("API key %s for %s (store it now, it is not shown again):\n%s\n", key.ID, actor, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			_, cfg, err := app.ResolveOwnerAndConfig(workspace, viper.GetString("owner"))
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("ROTALINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowActorHeader,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("ROTALINE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Rotaline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (local only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	ownerID, cfg, err := app.ResolveOwnerAndConfig(workspace, viper.GetString("owner"))
	if err != nil {
		return err
	}
	viper.Set("owner-resolved", ownerID)
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func proposeAndMaybeApply(ctx context.Context, c domain.Command, apply bool) error {
	return withEngine(ctx, func(ctx context.Context, e *engine.Engine) error {
		owner := viper.GetString("owner-resolved")
		actor := viper.GetString("actor-id")
		m, err := e.Propose(ctx, owner, c, actor)
		if err != nil {
			return err
		}
		if apply {
			m, err = e.Approve(ctx, owner, m.ID, false, actor)
			if err != nil {
				return err
			}
		}
		return printMutation(m)
	})
}

func printMutation(m domain.Mutation) error {
	if viper.GetBool("json") {
		return printJSON(m)
	}
	fmt.Printf("Mutation %s: %s (%s", m.ID, m.Intent, m.Status)
	if m.Exec != "" {
		fmt.Printf("/%s", m.Exec)
	}
	fmt.Println(")")
	if len(m.Violations) > 0 || len(m.Warnings) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Severity", "Constraint", "Message"})
		for _, v := range m.Violations {
			tw.AppendRow(table.Row{v.Severity, v.ConstraintName, v.Message})
		}
		for _, w := range m.Warnings {
			tw.AppendRow(table.Row{w.Severity, w.ConstraintName, w.Message})
		}
		tw.Render()
	}
	for _, a := range m.Alternatives {
		fmt.Printf("  alternative (%s): %s\n", a.Kind, a.Description)
	}
	if m.Explanation != "" {
		fmt.Println(m.Explanation)
	}
	if m.Status == domain.StatusProposed {
		fmt.Printf("Review with: rl mutation approve %s\n", m.ID)
	}
	return nil
}

// parsePattern decodes "work_day:5,work_night:5,off:5".
func parsePattern(in string) ([]domain.CycleBlock, error) {
	var blocks []domain.CycleBlock
	for _, part := range strings.Split(in, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid pattern block %q, want label:days", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid duration in pattern block %q", part)
		}
		blocks = append(blocks, domain.CycleBlock{
			Label:    domain.WorkType(strings.TrimSpace(kv[0])),
			Duration: n,
		})
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("pattern is empty")
	}
	return blocks, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func printJSONOrIndent(v any) error {
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
