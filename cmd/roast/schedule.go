package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"roastline/internal/app"
	"roastline/internal/domain"
	"roastline/internal/schedule"
)

func scheduleCmd() *cobra.Command {
	sc := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"s"},
		Short:   "Plan roasting sessions",
	}
	sc.AddCommand(scheduleAddCmd())
	sc.AddCommand(scheduleListCmd())
	sc.AddCommand(scheduleShowCmd())
	sc.AddCommand(scheduleUpdateCmd())
	sc.AddCommand(scheduleCompleteCmd())
	sc.AddCommand(scheduleDeleteCmd())
	sc.AddCommand(scheduleUpcomingCmd())
	sc.AddCommand(scheduleOverdueCmd())
	sc.AddCommand(scheduleLogCmd())
	return sc
}

func scheduleAddCmd() *cobra.Command {
	var req domain.ScheduleEntryRequest
	var level, priority string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a roast",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TargetRoastLevel = domain.RoastLevel(level)
			req.Priority = domain.Priority(priority)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Schedule.Create(ctx, req)
				if err != nil {
					return err
				}
				return printRoast(r)
			})
		},
	}
	cmd.Flags().StringVar(&req.CoffeeName, "coffee", "", "coffee name")
	cmd.Flags().StringVar(&req.GreenCoffeeName, "green", "", "green coffee name")
	cmd.Flags().StringVar(&req.ScheduledDate, "date", "", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&req.GreenWeight, "weight", 0, "green weight in grams")
	cmd.Flags().StringVar(&level, "level", string(domain.RoastMedium), "target roast level")
	cmd.Flags().StringVar(&req.EquipmentID, "equipment", "", "roaster id")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	_ = cmd.MarkFlagRequired("coffee")
	_ = cmd.MarkFlagRequired("green")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("weight")
	_ = cmd.MarkFlagRequired("equipment")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled roasts by date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Schedule.List(ctx)
				if err != nil {
					return err
				}
				return printRoastTable(items, time.Now())
			})
		},
	}
}

func scheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a scheduled roast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Schedule.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printRoast(r)
			})
		},
	}
}

func scheduleUpdateCmd() *cobra.Command {
	var coffee, green, date, level, equipment, notes, priority string
	var weight float64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a scheduled roast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.SchedulePatch
			if cmd.Flags().Changed("coffee") {
				patch.CoffeeName = &coffee
			}
			if cmd.Flags().Changed("green") {
				patch.GreenCoffeeName = &green
			}
			if cmd.Flags().Changed("date") {
				patch.ScheduledDate = &date
			}
			if cmd.Flags().Changed("weight") {
				patch.GreenWeight = &weight
			}
			if cmd.Flags().Changed("level") {
				l := domain.RoastLevel(level)
				patch.TargetRoastLevel = &l
			}
			if cmd.Flags().Changed("equipment") {
				patch.EquipmentID = &equipment
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			if cmd.Flags().Changed("priority") {
				p := domain.Priority(priority)
				patch.Priority = &p
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to update; pass at least one field flag")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Schedule.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printRoast(r)
			})
		},
	}
	cmd.Flags().StringVar(&coffee, "coffee", "", "coffee name")
	cmd.Flags().StringVar(&green, "green", "", "green coffee name")
	cmd.Flags().StringVar(&date, "date", "", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&weight, "weight", 0, "green weight in grams")
	cmd.Flags().StringVar(&level, "level", "", "target roast level")
	cmd.Flags().StringVar(&equipment, "equipment", "", "roaster id")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	return cmd
}

func scheduleCompleteCmd() *cobra.Command {
	var outcome string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a roast completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out schedule.Outcome
			if outcome != "" {
				if err := json.Unmarshal([]byte(outcome), &out); err != nil {
					return fmt.Errorf("--outcome must be a JSON object: %w", err)
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Schedule.Complete(ctx, args[0], out)
				if err != nil {
					return err
				}
				return printRoast(r)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", `roast result as JSON, e.g. {"roasted_weight":2150}`)
	return cmd
}

func scheduleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scheduled roast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Schedule.Delete(ctx, args[0]); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func scheduleUpcomingCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Incomplete roasts due soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := referenceTime(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Schedule.Upcoming(ctx, now)
				if err != nil {
					return err
				}
				return printRoastTable(items, now)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "reference instant (RFC 3339 or YYYY-MM-DD), default now")
	return cmd
}

func scheduleOverdueCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "Incomplete roasts dated before today",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := referenceTime(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Schedule.Overdue(ctx, now)
				if err != nil {
					return err
				}
				return printRoastTable(items, now)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "reference instant (RFC 3339 or YYYY-MM-DD), default now")
	return cmd
}

func scheduleLogCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Tail schedule events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Events.Latest(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Roast", "Actor"})
				for _, e := range evts {
					when := e.TS
					if ts, err := time.Parse(domain.TimestampLayout, e.TS); err == nil {
						when = humanize.Time(ts)
					}
					tw.AppendRow(table.Row{e.ID, when, e.Type, e.RoastID, e.Actor})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func inventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Show on-hand roasted and green coffee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inv, err := a.Inventory.CurrentInventory(ctx, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(inv)
				}
				rt := table.NewWriter()
				rt.SetOutputMirror(os.Stdout)
				rt.SetTitle("Roasted")
				rt.AppendHeader(table.Row{"Name", "Quantity", "Roasted", "Age"})
				for _, r := range inv.Roasted {
					rt.AppendRow(table.Row{r.Name, grams(r.Quantity), r.RoastDate, fmt.Sprintf("%d days", r.AgeDays)})
				}
				rt.Render()
				gt := table.NewWriter()
				gt.SetOutputMirror(os.Stdout)
				gt.SetTitle("Green")
				gt.AppendHeader(table.Row{"Name", "Quantity", "Origin", "Process"})
				for _, g := range inv.Green {
					gt.AppendRow(table.Row{g.Name, grams(g.Quantity), g.Origin, g.Process})
				}
				gt.Render()
				return nil
			})
		},
	}
}

func referenceTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return t, nil
}

func printRoast(r domain.ScheduledRoast) error {
	return printJSONOrTable(r)
}

func printRoastTable(items []domain.ScheduledRoast, now time.Time) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Date", "When", "Coffee", "Green", "Weight", "Level", "Equipment", "Priority", "Done"})
	for _, r := range items {
		tw.AppendRow(table.Row{
			r.ID, r.ScheduledDate, relativeDay(r, now), r.CoffeeName, r.GreenCoffeeName,
			grams(r.GreenWeight), r.TargetRoastLevel, r.EquipmentID, r.Priority, r.Completed,
		})
	}
	tw.Render()
	return nil
}

func relativeDay(r domain.ScheduledRoast, now time.Time) string {
	day, err := r.Day()
	if err != nil {
		return "?"
	}
	if day.Equal(schedule.StartOfDay(now.UTC())) {
		return "today"
	}
	return humanize.RelTime(day, now, "ago", "from now")
}

func grams(g float64) string {
	if g >= 1000 {
		return humanize.FormatFloat("#,###.##", g/1000) + " kg"
	}
	return humanize.Ftoa(g) + " g"
}
