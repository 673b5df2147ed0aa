// Package automator decides when commensal recordings start and stop.
//
// A single Dispatcher goroutine consumes keyspace notifications in delivery
// order. Antenna-hash updates are routed to the TelescopeTracker, instance
// status updates to the RecordingTracker; detected transitions drive the
// Controller, which calls the external gateway and adjusts the live
// subscriptions. All state lives on that goroutine: none of the trackers,
// the SubscriptionManager or the Controller are safe for concurrent use, and
// external readers go through Dispatcher.Snapshot.
package automator
