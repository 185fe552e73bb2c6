// Package backoff provides retry delay helpers with exponential growth and jitter.
//
// Use ExponentialWithJitter to size retry delays and SleepWithContext to wait
// while respecting cancellation and deadlines. The postgres package uses these
// helpers when polling a database for readiness.
package backoff
