package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long: `Run a full sync cycle: refresh projects, flush the pending operation
queue, and pull remote deltas. With --filter, the delta pull is scoped
to one remote filter query and its result set is cached.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(os.Stderr)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		if a.doc != nil {
			if err := a.doc.Scan(); err != nil {
				fatalf("failed to scan %s: %v", a.doc.Path(), err)
			}
		}

		filter, _ := cmd.Flags().GetString("filter")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		start := time.Now()
		if filter != "" {
			err = a.engine.SyncFilterNow(ctx, filter)
		} else {
			err = a.engine.SyncNow(ctx)
		}
		if err != nil {
			fatalf("sync failed: %v", err)
		}

		status := a.engine.Status()
		fmt.Printf("%s Sync complete in %v\n", ui.Mark(), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Tasks: %d\n", status.Tasks)
		fmt.Printf("   Projects: %d\n", status.Projects)
		if status.QueueDepth > 0 {
			fmt.Printf("   %s\n", ui.WarnStyle.Render(fmt.Sprintf("Pending ops: %d (retrying with backoff)", status.QueueDepth)))
		}
	},
}

func init() {
	syncCmd.Flags().StringP("filter", "f", "", "sync one remote filter query instead of the full delta pull")
	rootCmd.AddCommand(syncCmd)
}
