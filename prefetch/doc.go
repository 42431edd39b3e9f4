// Package prefetch decides which restaurant data to fetch before the user
// asks for it, and spends a metered API budget doing so.
//
// # Reading Guide
//
// Start with these files to understand a trigger cycle:
//   - engine.go: Engine, the Trigger cycle (scoring → filtering → selecting → executing)
//   - scoring.go: the eight-factor card scorer and history-driven confidence
//   - cost.go: expected value, value per dollar and greedy per-resource selection
//   - thresholds.go: admission gates and how they tighten as budget runs out
//   - execute.go: bounded-concurrency dispatch and immediate fetches
//   - attribution.go: usage and waste attribution from tracker events
//
// # Architecture
//
// Sub-packages:
//   - prefetch/ledger/: persisted daily and monthly spend counters, BudgetStatus
//   - prefetch/store/: key-value backends for the ledger (memory, badger, sqlite)
//   - prefetch/trace/: per-cycle decision records and summaries
//   - prefetch/session/: reference tracker, simulated places client and session runner
//
// # Key Interfaces
//
// The engine consumes three collaborators:
//   - PlacesClient: details and photo fetches, the calls that cost money
//   - BehaviorTracker: user history, live session metrics and end-of-session prediction
//   - ledger.Store: GetItem/SetItem persistence for spend counters
//
// and lets callers observe it through Listener.
package prefetch
