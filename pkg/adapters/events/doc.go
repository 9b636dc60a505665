// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups, for multi-instance deployments
//   - memory: in-process fan-out, for single instance deployments and tests
package events
