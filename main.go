// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🚀 rowsync - Server-Authoritative Client Sync Engine")
	fmt.Println("====================================================")
	fmt.Println()
	fmt.Println("rowsync keeps client replicas converged with a server-authoritative Postgres")
	fmt.Println("store using row-version diffing, causal per-client mutation ordering, and")
	fmt.Println("optimistic-concurrency transaction retry.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 HTTP Sync Server Example (examples/syncserver/)")
	fmt.Println("   A complete pull/push sync server using Go's net/http package")
	fmt.Println("   Features: JWT auth, incremental patches, authoritative mutators, Redis pokes")
	fmt.Println("   Run: cd examples/syncserver && go run .")
	fmt.Println()

	fmt.Println("🧩 Integrating the library:")
	fmt.Println()
	fmt.Println("   1. Register synced tables (row metadata + row fetch queries)")
	fmt.Println("   2. Register mutators for every client-side mutation name")
	fmt.Println("   3. Mount HandlePull and HandlePush behind your auth")
	fmt.Println()
	fmt.Println("   See rowsync/service.go for the SyncService API.")
}
