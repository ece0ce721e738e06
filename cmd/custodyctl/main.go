// Command custodyctl is the operator CLI: schema migration, provenance
// lookups, catalog registration and the outbox relay.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
