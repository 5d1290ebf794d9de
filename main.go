// The main package for the pressroom executable.
//
// Architecture overview:
//   - CLI: cmd/ holds one cobra command per operator trigger. Each command loads
//     config, builds the app and runs one stage inline, or submits it to the
//     task queue.
//   - Serve: the operator API and one worker pool per lane (crawl, process,
//     categorize, embed, index, maintenance) share a broker backed by memory
//     or Redis.
//   - Persistence: Postgres with pgvector is authoritative; the Typesense index
//     is a replica kept current by events and periodic reconciliation.
package main

import (
	"github.com/JakeFAU/pressroom/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
