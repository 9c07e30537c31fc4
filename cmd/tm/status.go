package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/ui"
)

// staleWindow is how long a task may go unmentioned by remote pulls
// before status flags it as possibly deleted remotely.
const staleWindow = 14 * 24 * time.Hour

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state, queue depth, and cache sizes",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		st := a.engine.Status()

		fmt.Println(ui.TitleStyle.Render("taskmirror status"))
		fmt.Printf("   Tasks cached:   %d\n", st.Tasks)
		fmt.Printf("   Projects:       %d\n", st.Projects)
		fmt.Printf("   Pending ops:    %d\n", st.QueueDepth)
		fmt.Printf("   Cached filters: %d\n", st.FilterCache)
		if st.Cursor != "" {
			fmt.Printf("   Cursor:         %s\n", ui.DimStyle.Render(st.Cursor))
		}
		fmt.Printf("   Last success:   %s\n", formatAge(st.Sync.LastSuccessAt))
		if st.Sync.LastError != "" {
			fmt.Printf("   %s %s (%s)\n", ui.ErrorStyle.Render("Last error:"), st.Sync.LastError, formatAge(st.Sync.LastErrorAt))
		}

		if stale := a.store.StaleTasks(time.Now().Add(-staleWindow)); len(stale) > 0 {
			fmt.Println()
			fmt.Println(ui.WarnStyle.Render(fmt.Sprintf("%d task(s) not seen in a remote pull for over %d days (possibly deleted remotely):", len(stale), int(staleWindow.Hours()/24))))
			for _, t := range stale {
				fmt.Printf("   %s %s\n", t.Content, ui.DimStyle.Render("^"+t.ID))
			}
		}

		if exprs := a.store.FilterExpressions(); len(exprs) > 0 {
			fmt.Println()
			fmt.Println(ui.TitleStyle.Render("cached filters (most recently used first)"))
			for _, expr := range exprs {
				fmt.Printf("   %s\n", ui.AccentStyle.Render(expr))
			}
		}
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached tasks",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		all, _ := cmd.Flags().GetBool("all")

		tasks := a.store.Tasks()
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].Content < tasks[j].Content })

		shown := 0
		for _, t := range tasks {
			if t.IsDeleted || (t.IsCompleted && !all) {
				continue
			}
			project := ""
			if p, ok := a.store.Project(t.ProjectID); ok {
				project = p.Name
			}
			fmt.Println(ui.TaskRow(t.ID, t.Content, project, t.DueDate, t.IsCompleted))
			shown++
		}
		if shown == 0 {
			fmt.Println(ui.DimStyle.Render("no tasks cached; run 'tm sync'"))
		}
	},
}

func init() {
	listCmd.Flags().BoolP("all", "a", false, "include completed tasks")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}
