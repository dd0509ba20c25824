// Package idempotency derives deterministic correlation ids so a retried
// request produces the same ledger key as the original.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key returns "action:" followed by the first 32 hex characters of
// SHA-256(actor, action, params...). Params are canonicalized with
// encoding/json, so map keys are sorted but slice order is significant:
// callers sort id lists before passing them.
func Key(actor, action string, params ...any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s", actor, action)
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", p))
		}
		h.Write([]byte{0})
		h.Write(b)
	}
	return action + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Derive builds a child key from an existing correlation id, e.g. the refund
// that offsets part of an earlier debit.
func Derive(parent, suffix string) string {
	return Key(parent, suffix)
}
