package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/textfile"
	"github.com/taskmirror/taskmirror/internal/ui"
)

var addCmd = &cobra.Command{
	Use:   "add <content>...",
	Short: "Queue a new task for the next sync",
	Long: `Add a task locally. It shows up immediately with a temporary id and
is created remotely on the next sync, when the temporary id is
replaced by the canonical one.

The --due flag accepts an exact date or a natural phrase:

  tm add Buy milk --due 2026-09-01
  tm add Call dentist --due tomorrow --project Errands`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		content := strings.Join(args, " ")
		project, _ := cmd.Flags().GetString("project")
		due, _ := cmd.Flags().GetString("due")
		done, _ := cmd.Flags().GetBool("done")

		projectID := a.projectID(project)
		if project != "" && projectID == "" {
			fmt.Printf("%s unknown project %q; task goes to the inbox (run 'tm sync' to refresh projects)\n",
				ui.WarnStyle.Render("!"), project)
		}

		dueDate := textfile.ParseDueDate(due, time.Now())
		if due != "" && dueDate == "" {
			fatalf("could not understand due date %q", due)
		}

		localID := a.queue.EnqueueCreate(content, projectID, dueDate, done)

		fmt.Printf("%s Queued %q as %s\n", ui.Mark(), content, ui.DimStyle.Render(localID))
	},
}

func init() {
	addCmd.Flags().StringP("project", "p", "", "project name for the task")
	addCmd.Flags().StringP("due", "d", "", "due date (YYYY-MM-DD or natural language)")
	addCmd.Flags().Bool("done", false, "create the task already completed")
	rootCmd.AddCommand(addCmd)
}
