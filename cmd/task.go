package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shaharia-lab/taskrun/internal/storage"
)

func newTaskCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect, and control tasks",
	}

	root.AddCommand(newTaskCreateCmd(app))
	root.AddCommand(newTaskListCmd(app))
	root.AddCommand(newTaskGetCmd(app))
	root.AddCommand(newTaskUpdateCmd(app))
	root.AddCommand(newTaskPauseCmd(app))
	root.AddCommand(newTaskResumeCmd(app))
	root.AddCommand(newTaskDeleteCmd(app))
	root.AddCommand(newTaskRunNowCmd(app))
	return root
}

func newTaskCreateCmd(app *App) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task from a JSON or YAML definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}

			var task storage.Task
			if err := unmarshalTaskFile(file, raw, &task); err != nil {
				return err
			}

			created, err := app.service.CreateTask(cmd.Context(), &task)
			if err != nil {
				return err
			}
			fmt.Printf("created task %d (%s)\n", created.ID, created.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to a JSON or YAML task definition")
	return cmd
}

// unmarshalTaskFile decodes raw into task, using YAML when file ends in
// .yaml/.yml (the CLI-only convenience; the on-disk store format is always
// JSON) and JSON otherwise.
func unmarshalTaskFile(file string, raw []byte, task *storage.Task) error {
	if isYAMLFile(file) {
		if err := yaml.Unmarshal(raw, task); err != nil {
			return fmt.Errorf("parsing YAML task definition: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(raw, task); err != nil {
		return fmt.Errorf("parsing JSON task definition: %w", err)
	}
	return nil
}

func isYAMLFile(file string) bool {
	n := len(file)
	return n >= 5 && file[n-5:] == ".yaml" || n >= 4 && file[n-4:] == ".yml"
}

func newTaskListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all non-deleted tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := app.service.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			printTaskTable(tasks)
			return nil
		},
	}
}

func printTaskTable(tasks []*storage.Task) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pausedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	rows := []string{headerStyle.Render(fmt.Sprintf("%-5s %-24s %-10s %-10s %s", "ID", "NAME", "TYPE", "STATUS", "STEPS"))}
	for _, t := range tasks {
		statusStyle := dimStyle
		switch t.Status {
		case storage.TaskStatusActive:
			statusStyle = activeStyle
		case storage.TaskStatusPaused:
			statusStyle = pausedStyle
		}
		rows = append(rows, fmt.Sprintf("%-5d %-24s %-10s %-10s %d",
			t.ID, t.Name, t.Type, statusStyle.Render(string(t.Status)), len(t.Steps)))
	}
	if len(tasks) == 0 {
		rows = append(rows, dimStyle.Render("(no tasks)"))
	}

	table := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
	fmt.Println(table)
}

func newTaskGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task's full definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			task, err := app.service.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(task)
		},
	}
}

func newTaskUpdateCmd(app *App) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Apply a JSON merge-patch to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			var patch map[string]interface{}
			if err := json.Unmarshal(raw, &patch); err != nil {
				return fmt.Errorf("parsing patch: %w", err)
			}

			updated, err := app.service.UpdateTask(cmd.Context(), id, patch)
			if err != nil {
				return err
			}
			fmt.Printf("updated task %d (%s)\n", updated.ID, updated.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to a JSON merge-patch document")
	return cmd
}

func newTaskPauseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a task, unscheduling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			task, err := app.service.PauseTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("task %d paused\n", task.ID)
			return nil
		},
	}
}

func newTaskResumeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused task, rescheduling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			task, err := app.service.ResumeTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("task %d resumed\n", task.ID)
			return nil
		},
	}
}

func newTaskDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Tombstone a task and unschedule it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			if err := app.service.DeleteTask(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("task %d deleted\n", id)
			return nil
		},
	}
}

func newTaskRunNowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run-now <id>",
		Short: "Run a task's chain immediately, outside its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			if err := app.service.RunNow(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("task %d run complete\n", id)
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
