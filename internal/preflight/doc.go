// Package preflight checks that a vault can be indexed and searched
// before any work starts.
//
// The checks cover:
//   - the vault directory is readable
//   - the data directory is writable and has free space
//   - the file descriptor limit is high enough for watching
//   - the embedding provider answers
//   - at least one configured search backend is available
//
// Use the Checker type to run them:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, preflight.Target{Vault: root, DataDir: dir})
//	if checker.HasCriticalFailures(results) {
//	    // refuse to index
//	}
package preflight
