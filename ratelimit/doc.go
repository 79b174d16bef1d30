// Package ratelimit bounds concurrency and request rate against remote
// embedding services.
//
// Each category gets its own limiter: a concurrency ceiling, a minimum
// spacing between dispatches, and a token reservoir refilled on a fixed
// interval. Calls that exceed capacity queue FIFO; queued calls older than
// the configured expiration are dropped with core.ErrQueueExpired instead
// of executing arbitrarily late. Throttling responses from the remote
// service are retried inside the limiter with strictly increasing delays
// and only surface after the retry budget is spent.
package ratelimit
