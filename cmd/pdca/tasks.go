package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/pdcadash/pdca/internal/schema"
	"github.com/pdcadash/pdca/internal/tasks"
	"github.com/pdcadash/pdca/internal/ui"
)

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseDate accepts YYYY-MM-DD or a natural phrase such as "next friday"
// and returns a calendar date.
func parseDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || schema.IsDate(s) {
		return s, nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil || r == nil {
		return "", &schema.ValidationError{Field: "date", Reason: fmt.Sprintf("cannot understand %q", s)}
	}
	return r.Time.Format(schema.DateLayout), nil
}

// entityScoped requires --client and --entity before opening the runtime.
func entityScoped(cmd *cobra.Command, args []string) error {
	if err := requireEntity(); err != nil {
		return err
	}
	return rootCmd.PersistentPreRunE(cmd, args)
}

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "data",
	Short:   "Manage the tasks of an entity",
	Long: `Manage the tasks of an entity.

Tasks live in the entity's tasks.json. Every change is also applied to the
client's all-tasks.json and, when present, master-data.json.`,
	PersistentPreRunE: entityScoped,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := tasks.TaskInput{Title: args[0]}
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			status, err := schema.ParseStatus(s)
			if err != nil {
				return err
			}
			in.Status = status
		}
		d, _ := cmd.Flags().GetString("date")
		date, err := parseDate(d, time.Now())
		if err != nil {
			return err
		}
		in.Date = date

		t, err := rt.svc.CreateTask(rt.ctx, clientID, entityID, in)
		if err != nil {
			return err
		}
		fmt.Printf("%s Created task %s\n", ui.RenderPass("✓"), t.ID)
		printTask(t)
		return nil
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Change the title, status or date of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch tasks.TaskPatch
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			patch.Title = &title
		}
		if cmd.Flags().Changed("status") {
			s, _ := cmd.Flags().GetString("status")
			status, err := schema.ParseStatus(s)
			if err != nil {
				return err
			}
			patch.Status = &status
		}
		if cmd.Flags().Changed("date") {
			d, _ := cmd.Flags().GetString("date")
			date, err := parseDate(d, time.Now())
			if err != nil {
				return err
			}
			patch.Date = &date
		}

		t, err := rt.svc.UpdateTask(rt.ctx, clientID, entityID, args[0], patch)
		if err != nil {
			return err
		}
		fmt.Printf("%s Updated task %s\n", ui.RenderPass("✓"), t.ID)
		printTask(t)
		return nil
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rt.svc.DeleteTask(rt.ctx, clientID, entityID, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s Deleted task %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks of --entity, or of the whole client with --all",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			if err := requireClient(); err != nil {
				return err
			}
			return rootCmd.PersistentPreRunE(cmd, args)
		}
		return entityScoped(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			list []schema.Task
			err  error
		)
		if all, _ := cmd.Flags().GetBool("all"); all {
			list, err = rt.svc.ListClientTasks(rt.ctx, clientID)
		} else {
			list, err = rt.svc.ListTasks(rt.ctx, clientID, entityID)
		}
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Printf("%s No tasks\n", ui.RenderWarn("⚠"))
			return nil
		}
		rows := make([][]string, 0, len(list))
		for _, t := range list {
			rows = append(rows, []string{t.ID, t.EntityName, t.Title, string(t.Status), t.Date})
		}
		ui.Table(os.Stdout, []string{"ID", "ENTITY", "TITLE", "STATUS", "DATE"}, rows, ui.Width()/3)
		return nil
	},
}

func printTask(t schema.Task) {
	fmt.Printf("   Title: %s\n", t.Title)
	fmt.Printf("   Status: %s\n", t.Status)
	if t.Date != "" {
		fmt.Printf("   Date: %s\n", t.Date)
	}
}

var cycleCmd = &cobra.Command{
	Use:               "cycle",
	GroupID:           "data",
	Short:             "Manage the PDCA cycles of an entity",
	PersistentPreRunE: entityScoped,
}

var cycleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		now := time.Now()
		d, _ := f.GetString("date")
		date, err := parseDate(d, now)
		if err != nil {
			return err
		}
		if date == "" {
			date = now.Format(schema.DateLayout)
		}
		c := schema.PdcaCycle{CycleDate: date}
		c.IssueID, _ = f.GetString("issue-id")
		c.Situation, _ = f.GetString("situation")
		c.Issue, _ = f.GetString("issue")
		c.Action, _ = f.GetString("action")
		c.Target, _ = f.GetString("target")
		if s, _ := f.GetString("status"); s != "" {
			if c.Status, err = schema.ParseStatus(s); err != nil {
				return err
			}
		}

		c, err = rt.svc.AddCycle(rt.ctx, clientID, entityID, c)
		if err != nil {
			return err
		}
		fmt.Printf("%s Recorded cycle %s for %s\n", ui.RenderPass("✓"), c.ID, c.CycleDate)
		return nil
	},
}

var cycleUpdateCmd = &cobra.Command{
	Use:   "update <cycle-id>",
	Short: "Edit a cycle in place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		var patch tasks.CyclePatch
		str := func(name string) *string {
			if !f.Changed(name) {
				return nil
			}
			v, _ := f.GetString(name)
			return &v
		}
		patch.Situation = str("situation")
		patch.Issue = str("issue")
		patch.Action = str("action")
		patch.Target = str("target")
		if d := str("date"); d != nil {
			date, err := parseDate(*d, time.Now())
			if err != nil {
				return err
			}
			patch.CycleDate = &date
		}
		if s := str("status"); s != nil {
			status, err := schema.ParseStatus(*s)
			if err != nil {
				return err
			}
			patch.Status = &status
		}

		c, err := rt.svc.UpdateCycle(rt.ctx, clientID, entityID, args[0], patch)
		if err != nil {
			return err
		}
		fmt.Printf("%s Updated cycle %s (%s, %s)\n", ui.RenderPass("✓"), c.ID, c.CycleDate, c.Status)
		return nil
	},
}

var cycleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the cycles of --entity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := rt.svc.ListCycles(rt.ctx, clientID, entityID)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, c := range list {
			rows = append(rows, []string{c.ID, c.CycleDate, string(c.Status), c.Issue, c.Action, c.Target})
		}
		ui.Table(os.Stdout, []string{"ID", "DATE", "STATUS", "ISSUE", "ACTION", "TARGET"}, rows, ui.Width()/5)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{taskAddCmd, taskUpdateCmd} {
		c.Flags().String("status", "", "open, doing, done or paused")
		c.Flags().String("date", "", `due date: YYYY-MM-DD or a phrase like "next friday"`)
	}
	taskUpdateCmd.Flags().String("title", "", "new title")
	taskListCmd.Flags().Bool("all", false, "list every task of the client from its aggregate")

	for _, c := range []*cobra.Command{cycleAddCmd, cycleUpdateCmd} {
		c.Flags().String("date", "", "cycle date (default today)")
		c.Flags().String("status", "", "open, doing, done or paused")
		c.Flags().String("situation", "", "observed situation")
		c.Flags().String("issue", "", "issue found")
		c.Flags().String("action", "", "action taken")
		c.Flags().String("target", "", "target for the next cycle")
	}
	cycleAddCmd.Flags().String("issue-id", "", "issue the cycle reviews")

	taskCmd.AddCommand(taskAddCmd, taskUpdateCmd, taskRmCmd, taskListCmd)
	cycleCmd.AddCommand(cycleAddCmd, cycleUpdateCmd, cycleListCmd)
	rootCmd.AddCommand(taskCmd, cycleCmd)
}
