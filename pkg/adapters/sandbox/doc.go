// Package sandbox provides ExecutionSandbox backends.
//
// Implementations:
//   - inprocess: runs the agent on its own goroutine with a deadline
//   - subprocess: runs the agent in a child process speaking JSON over stdio
package sandbox
