// Package feed runs the live synchronization loop.
//
// A Runner owns the subscription collection, the synchronizer and the
// universe applier. Run drives one Step per tick and hands emitted slices to
// the consumer over a bounded channel. Subscriptions and universes may be
// changed from any goroutine while Run is active; Exit stops the loop from
// any goroutine, including while it waits on a slow consumer.
//
// Lifecycle:
//
//	Created -> Initialized -> Running -> Stopped
//	                             \-> Faulted
package feed
