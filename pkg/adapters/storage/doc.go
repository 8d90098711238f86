// Package storage provides StateStore implementations and the
// read-modify-write helper used with them.
//
// Implementations:
//   - redis: Redis with JSON serialization, TTL and WATCH/MULTI compare-and-set
//   - mysql: MySQL with a version column compare-and-set
//   - memory: In-memory for tests and single-process use
package storage
