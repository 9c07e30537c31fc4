package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/ui"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Evict stale filter cache entries and resolved id aliases",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		removed := a.engine.PruneCaches()
		if err := a.save(); err != nil {
			fatalf("failed to persist state: %v", err)
		}
		fmt.Printf("%s pruned %d cache entry(ies)\n", ui.Mark(), removed)
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
