// Package campaign implements campaign lifecycle management and the batch
// sender.
//
// Send claims a bounded batch of queued recipients, reserves credits for the
// batch, personalizes and tracks each message, hands it to the configured
// provider through a bounded worker pool, and records a per-recipient
// outcome. One recipient's failure never aborts the batch.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
