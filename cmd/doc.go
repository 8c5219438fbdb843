// Package cmd implements the lockwatch command-line interface. The commands
// exercise the instrumented mutex under load and make its diagnostics visible.
//
// The package is organized into several subpackages:
//
//   - stress: Runs workers against a pool of instrumented locks (or keyed locks of
//     the lock manager), verifies that no update was lost and prints wait times,
//     fairness and coordinator statistics
//   - deadlock: Provokes an ABBA deadlock and shows the coordinator's cycle report
//   - bench: Compares the instrumented mutex with sync.Mutex
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through the environment as LOCKWATCH_<FLAG>
// (e.g. LOCKWATCH_WAIT_THRESHOLD=200ms), .env and .env.local are loaded on start.
//
// See lockwatch -help for a list of all commands.
package cmd
