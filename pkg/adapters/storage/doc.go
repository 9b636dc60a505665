// Package storage provides job result storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - postgres: PostgreSQL table with an expiry column
//   - memory: in-process map with TTL, for single instance deployments and tests
package storage
