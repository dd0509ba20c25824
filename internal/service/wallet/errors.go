package wallet

import "errors"

// ErrInsufficientFunds is returned by Repository.Apply when a guarded debit
// would take the balance below zero. The current balance is returned with it.
var ErrInsufficientFunds = errors.New("insufficient funds")
