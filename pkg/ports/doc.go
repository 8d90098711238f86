// Package ports declares the interfaces the orchestrator core depends on.
// Adapters under pkg/adapters implement them.
package ports
