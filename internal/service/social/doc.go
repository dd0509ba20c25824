// Package social publishes posts to connected provider accounts and meters
// them against the user's credit wallet.
package social
