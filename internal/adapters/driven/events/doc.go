// Package events provides EventPublisher implementations: an in-process
// broker that feeds SSE subscribers, a log-only publisher and a fan-out
// that delivers to several publishers at once. The Redis Streams publisher
// lives in the redisstream subpackage.
package events
