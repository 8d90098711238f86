// Package orchestrator implements the core orchestration logic for task runs.
//
// The orchestrator manager coordinates graph execution by:
//   - Validating graph structure, agent types and run settings
//   - Managing the run lifecycle (submit, wait, cancel, shutdown)
//   - Publishing every run and node transition to the event bus
//   - Persisting snapshots through the state store with compare-and-set
//
// Each run is driven by its own coordinator goroutine that consumes
// completion notifications from the node runners one at a time.
package orchestrator
