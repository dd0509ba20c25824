// Package wallet implements the prepaid credit wallet.
//
// Every balance change is an append-only ledger entry keyed by a unique
// correlation id. Replaying an entry with a known correlation id is a no-op
// that returns the current balance. The materialized balance is moved in the
// same transaction as the ledger insert, so reads never sum the ledger.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package wallet
