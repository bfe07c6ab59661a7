package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/taskrun/internal/storage"
)

func newLogsCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "logs",
		Short: "Inspect task execution history",
	}

	root.AddCommand(newLogsListCmd(app))
	root.AddCommand(newLogsGetCmd(app))
	root.AddCommand(newLogsClearCmd(app))
	return root
}

func newLogsListCmd(app *App) *cobra.Command {
	var taskIDFlag int64
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent execution log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var taskID *int64
			if cmd.Flags().Changed("task") {
				taskID = &taskIDFlag
			}
			entries, err := app.service.ListLogs(cmd.Context(), taskID, limit)
			if err != nil {
				return err
			}
			printLogTable(entries)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskIDFlag, "task", 0, "filter to a single task id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to return")
	return cmd
}

func printLogTable(entries []*storage.LogEntry) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failureStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	rows := []string{headerStyle.Render(fmt.Sprintf("%-5s %-20s %-8s %-9s %-9s %s", "ID", "TIMESTAMP", "TASK", "EVENT", "STATUS", "MESSAGE"))}
	for _, e := range entries {
		statusStyle := dimStyle
		switch e.Status {
		case storage.StatusSuccess:
			statusStyle = successStyle
		case storage.StatusFailure:
			statusStyle = failureStyle
		}
		rows = append(rows, fmt.Sprintf("%-5d %-20s %-8d %-9s %-9s %s",
			e.ID, e.Timestamp, e.TaskID, e.Event, statusStyle.Render(string(e.Status)), e.Message))
	}
	if len(entries) == 0 {
		rows = append(rows, dimStyle.Render("(no log entries)"))
	}

	table := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
	fmt.Println(table)
}

func newLogsGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a single log entry in full, including extracted details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid log id %q: %w", args[0], err)
			}
			entry, err := app.service.GetLog(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(entry)
		},
	}
}

func newLogsClearCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all execution log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.service.ClearLogs(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("logs cleared")
			return nil
		},
	}
}
