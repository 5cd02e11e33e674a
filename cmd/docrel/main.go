// Command docrel manages documents stored across relational tables.
//
// Usage:
//
//	docrel ddl [--apply]
//	docrel describe <collection> [--depth n]
//	docrel upsert <collection> [--id id] [--update] [--target col] [--where col=value] [--file doc.json]
//	docrel get <collection> <id> [--depth n]
//	docrel delete <collection> <id>
//	docrel stream
//
// Settings are read from docrel.toml (see --config).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "docrel:", err)
		os.Exit(1)
	}
}
