// Package subscription holds the live set of subscriptions.
//
// The Collection publishes copy-on-write snapshots through an atomic pointer,
// so the synchronizer loop iterates without locking while Add and Remove run
// on other goroutines. Every Add or Remove of a security queues one
// SecurityChanges record that the loop drains into the next slice.
package subscription
