// Package redis connects to Redis through github.com/redis/go-redis/v9.
//
// Connect retries the initial ping so the service can start alongside a Redis
// container that is still booting. Healthcheck returns a readiness probe.
// The client backs the HTTP idempotency store.
package redis
