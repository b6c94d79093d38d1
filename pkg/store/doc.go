// Package store holds the in-memory mirror of gateway state: a bounded log
// of received events and the latest result of each polled list method.
// The store is what the presentation layer reads; it never blocks the
// connection.
package store
