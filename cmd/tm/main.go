// Command tm mirrors a markdown task list against a remote task
// service: local edits queue as idempotent commands, remote changes
// flow back into the file, and a shadow signature per task keeps the
// two sides from clobbering each other.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
