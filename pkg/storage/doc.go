// Package storage defines the flight record store interface and shared
// types. The durable backend lives in storage/badger; storage/memory holds
// an in-process backend for tests and cache-off operation.
//
// The persisted layout is hierarchical: category/date/flightID, category
// one of "arrivals" or "departures", date "YYYY-MM-DD". Each leaf carries a
// mutable attribute record (overwritten on every upsert) and an append-only
// status-history sequence that is only ever extended, giving an audit trail
// independent of the current attributes.
package storage
