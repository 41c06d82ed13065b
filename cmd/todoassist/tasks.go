package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"todoassist/internal/app"
	"todoassist/internal/domain"
	"todoassist/internal/engine"
	"todoassist/internal/repo"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskDoneCmd())
	cmd.AddCommand(taskRemoveCmd())
	cmd.AddCommand(taskTreeCmd())
	return cmd
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func taskListCmd() *cobra.Command {
	var open, done, topLevel bool
	var parent int64
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.TaskFilters{TopLevel: topLevel, Limit: limit}
			switch {
			case open && done:
				return fmt.Errorf("--open and --done are exclusive")
			case open:
				v := false
				f.Done = &v
			case done:
				v := true
				f.Done = &v
			}
			if parent != 0 {
				f.ParentID = &parent
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "only tasks not done")
	cmd.Flags().BoolVar(&done, "done", false, "only done tasks")
	cmd.Flags().BoolVar(&topLevel, "top-level", false, "only tasks without a parent")
	cmd.Flags().Int64Var(&parent, "parent", 0, "children of this task")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func printTasks(tasks []domain.Task) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Title", "Date", "Priority", "Done", "Parent"})
	for _, t := range tasks {
		parent := ""
		if t.ParentID != nil {
			parent = strconv.FormatInt(*t.ParentID, 10)
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Date.String(), t.Priority, doneMark(t.Done), parent})
	}
	tw.Render()
}

func doneMark(done bool) string {
	if done {
		return "✓"
	}
	return ""
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var parent int64
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = args[0]
			if parent != 0 {
				opts.ParentID = &parent
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("created task %d: %s\n", t.ID, t.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Date, "date", "", "deadline, e.g. 2025-01-20 or 2025年1月20日")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority, higher is more urgent")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent task id")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				printTasks([]domain.Task{d.Task})
				if len(d.Children) > 0 {
					fmt.Println("children:")
					printTasks(d.Children)
				}
				fmt.Printf("completion: %.0f%%\n", d.CompletionRate*100)
				return nil
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, date string
	var priority int
	var parent int64
	var clearDate, detach bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			opts := engine.TaskUpdateOptions{ID: id, ClearParent: detach}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("date") {
				opts.Date = &date
			}
			if clearDate {
				empty := ""
				opts.Date = &empty
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("parent") {
				opts.SetParent = &parent
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				printTasks([]domain.Task{t})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&date, "date", "", "new deadline")
	cmd.Flags().BoolVar(&clearDate, "clear-date", false, "remove the deadline")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().Int64Var(&parent, "parent", 0, "move under this task")
	cmd.Flags().BoolVar(&detach, "detach", false, "make the task top-level")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			done := !undo
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTask(ctx, engine.TaskUpdateOptions{ID: id, Done: &done})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("task %d done: %t\n", t.ID, t.Done)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "reopen the task")
	return cmd
}

func taskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task; its children become top-level",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteTask(ctx, id); err != nil {
					return err
				}
				fmt.Printf("deleted task %d\n", id)
				return nil
			})
		},
	}
}

func taskTreeCmd() *cobra.Command {
	var open bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the task hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f := repo.TaskFilters{}
				if open {
					v := false
					f.Done = &v
				}
				tasks, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				known := map[int64]bool{}
				for _, t := range tasks {
					known[t.ID] = true
				}
				nodes := map[int64][]domain.Task{}
				var roots []domain.Task
				for _, t := range tasks {
					if t.ParentID != nil && known[*t.ParentID] {
						nodes[*t.ParentID] = append(nodes[*t.ParentID], t)
					} else {
						roots = append(roots, t)
					}
				}
				if viper.GetBool("json") {
					type Node struct {
						Task     domain.Task `json:"task"`
						Children []Node      `json:"children,omitempty"`
					}
					var build func(t domain.Task) Node
					build = func(t domain.Task) Node {
						var childNodes []Node
						for _, c := range nodes[t.ID] {
							childNodes = append(childNodes, build(c))
						}
						return Node{Task: t, Children: childNodes}
					}
					treeNodes := []Node{}
					for _, r := range roots {
						treeNodes = append(treeNodes, build(r))
					}
					return printJSON(treeNodes)
				}
				for i, r := range roots {
					printTaskTree(r, nodes, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "hide done tasks")
	return cmd
}

func printTaskTree(t domain.Task, children map[int64][]domain.Task, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	label := fmt.Sprintf("#%d %s", t.ID, t.Title)
	if !t.Date.IsZero() {
		label += " (" + t.Date.String() + ")"
	}
	if t.Done {
		label += " ✓"
	}
	fmt.Printf("%s%s%s\n", prefix, connector, label)
	for i, c := range children[t.ID] {
		printTaskTree(c, children, newPrefix, i == len(children[t.ID])-1)
	}
}
