package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/dashboard"
	"github.com/taskmirror/taskmirror/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the status dashboard without the sync loop",
	Long: `Serve the websocket status dashboard against the current state
database. No syncing happens; use this to inspect state while a
daemon runs elsewhere or while offline.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")

		a, err := newApp(os.Stderr)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		if addr == "" {
			addr = a.cfg.Dashboard.Addr
		}

		srv := dashboard.NewServer(addr, a.engine.Status, a.logger)
		if err := srv.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}
		a.emitter.Subscribe(dashboard.NewObserver(srv))

		fmt.Println(ui.TitleStyle.Render("taskmirror dashboard"))
		fmt.Printf("   Listening on %s\n", ui.AccentStyle.Render("http://"+srv.Addr()))
		fmt.Println(ui.DimStyle.Render("   Press Ctrl+C to stop"))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	},
}

func init() {
	dashboardCmd.Flags().String("addr", "", "listen address (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
