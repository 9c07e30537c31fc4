package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taskmirror/taskmirror/internal/task"
	"github.com/taskmirror/taskmirror/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or clear the pending operation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending operations in flush order",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		ops := a.store.Ops()
		if len(ops) == 0 {
			fmt.Println(ui.DimStyle.Render("queue is empty"))
			return
		}

		fmt.Println(ui.TitleStyle.Render(fmt.Sprintf("%d pending operation(s)", len(ops))))
		for i, op := range ops {
			fmt.Printf("%3d. %s %s\n", i+1, ui.AccentStyle.Render(string(op.Kind)), op.TargetID)
			if desc := opPayload(op); desc != "" {
				fmt.Printf("       %s\n", desc)
			}
			fmt.Printf("       queued %s", formatAge(op.QueuedAt))
			if op.Attempts > 0 {
				fmt.Printf(", %d attempt(s), retry %s", op.Attempts, formatAge(op.NextRetryAt))
			}
			fmt.Println()
			if op.LastError != "" {
				fmt.Printf("       %s %s\n", ui.ErrorStyle.Render("error:"), op.LastError)
			}
		}
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all pending operations",
	Long:  "Discard all pending operations. Local edits that have not been flushed to the remote are lost.",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(nil)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		depth := a.store.QueueLen()
		if depth == 0 {
			fmt.Println(ui.DimStyle.Render("queue is already empty"))
			return
		}

		if !force {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fatalf("refusing to discard %d pending operation(s) without a terminal; pass --force", depth)
			}
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Discard %d pending operation(s)?", depth)).
				Description("Unflushed local edits will be lost.").
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				fatalf("failed to read confirmation: %v", err)
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return
			}
		}

		cleared := a.store.ClearQueue()
		if err := a.save(); err != nil {
			fatalf("failed to persist state: %v", err)
		}
		fmt.Printf("%s discarded %d operation(s)\n", ui.Mark(), cleared)
	},
}

func opPayload(op *task.Operation) string {
	switch op.Kind {
	case task.OpCreate:
		return fmt.Sprintf("%q", op.Content)
	case task.OpUpdate:
		s := fmt.Sprintf("%q", op.Content)
		if op.DueDate != "" {
			s += " due " + op.DueDate
		}
		return s
	case task.OpMove:
		return "to project " + op.ProjectID
	default:
		return ""
	}
}

func init() {
	queueClearCmd.Flags().Bool("force", false, "skip the confirmation prompt")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
