// Package domain holds the data model shared by the orchestrator and its adapters:
// graph and node specifications, run and node state, agent results and the
// error taxonomy used to decide retries.
package domain
