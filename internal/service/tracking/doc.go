// Package tracking implements open/click tracking for campaign email.
//
// Rewrite is the pure HTML transformation applied to each recipient's copy
// before it is handed to a provider. Service records the events that the
// public /track endpoints receive; the first event sets the timestamp and
// every event increments the counter.
package tracking
