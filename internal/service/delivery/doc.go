// Package delivery reconciles provider delivery notifications with
// recipient state.
//
// Each wire format has a Parser that turns a request body into zero or more
// normalized domain.DeliveryEvent values. Reconciler.Apply matches an event
// to a recipient (message id, then campaign + tracking token, then latest
// send to the address) and moves the recipient along the status DAG with a
// conditional update, so replays are harmless.
package delivery
