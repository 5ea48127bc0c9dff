// Package retry runs an operation under a bounded attempt budget with
// exponential backoff between attempts.
//
// The schedule doubles from Policy.Base and truncates at Policy.Cap,
// with no jitter: the pipeline runs one upload at a time, so there is
// no herd of callers to spread out. Waits honour context cancellation.
package retry
