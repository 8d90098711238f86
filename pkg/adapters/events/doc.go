// Package events provides EventBus implementations used to publish task
// and node state transitions.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - rabbitmq: RabbitMQ topic exchange
//   - memory: In-process fan-out for tests and single-binary deployments
package events
