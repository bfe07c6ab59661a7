package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate task and execution statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := app.service.Stats(cmd.Context())
			if err != nil {
				return err
			}

			keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
			valStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
			rows := []string{
				fmt.Sprintf("%s %s", keyStyle.Render("total tasks:     "), valStyle.Render(fmt.Sprint(stats.TotalTasks))),
				fmt.Sprintf("%s %s", keyStyle.Render("active tasks:    "), valStyle.Render(fmt.Sprint(stats.ActiveTasks))),
				fmt.Sprintf("%s %s", keyStyle.Render("paused tasks:    "), valStyle.Render(fmt.Sprint(stats.PausedTasks))),
				fmt.Sprintf("%s %s", keyStyle.Render("today executions:"), valStyle.Render(fmt.Sprint(stats.TodayExecutions))),
				fmt.Sprintf("%s %s", keyStyle.Render("success rate:    "), valStyle.Render(fmt.Sprintf("%.1f%%", stats.SuccessRate*100))),
			}

			table := lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("8")).
				Padding(0, 1).
				Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
			fmt.Println(table)
			return nil
		},
	}
}
